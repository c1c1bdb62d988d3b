package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Neo4jInvoker runs a Cypher query against Neo4j's HTTP query API. No
// example repository in the pack imports a Neo4j driver (grounding gap
// recorded in DESIGN.md); rather than fabricate a dependency, this kind is
// built as an HTTP transport over Neo4j's documented query endpoint, kept
// in the same style as HTTPInvoker. Grounded on
// original_source/ai_state_machine/invoker/neo4j.py for its parameter
// resolution (database, limit, execute_write_queries) and config-or-default
// pattern.
type Neo4jInvoker struct {
	client      *http.Client
	endpoint    string // e.g. http://host:7474/db/{database}/query/v2
	username    string
	password    string
	limit       int
	writeQuery  bool
}

// NewNeo4jInvoker builds a Neo4jInvoker from meta.yaml's invoker config:
// endpoint, username, password, limit (default 100), execute_write_queries
// (default false).
func NewNeo4jInvoker(cfg Config) (Invoker, error) {
	endpoint := cfg.String("endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("neo4j invoker requires an 'endpoint' config value")
	}
	return &Neo4jInvoker{
		client:     &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		username:   cfg.String("username", ""),
		password:   cfg.String("password", ""),
		limit:      cfg.Int("limit", 100),
		writeQuery: cfg.String("execute_write_queries", "false") == "true",
	}, nil
}

type neo4jRequest struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Invoke implements Invoker. content is the Cypher statement text; the
// response's records are limited to Invoker's configured limit and
// returned as a JSON array, mirroring the original's
// execute_query(...).records[:limit].
func (n *Neo4jInvoker) Invoke(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(neo4jRequest{Statement: content})
	if err != nil {
		return "", Err("neo4j-cypher", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Err("neo4j-cypher", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if n.username != "" {
		req.SetBasicAuth(n.username, n.password)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", Err("neo4j-cypher", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Err("neo4j-cypher", err)
	}
	if resp.StatusCode >= 400 {
		return "", Err("neo4j-cypher", fmt.Errorf("neo4j returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var decoded struct {
		Data struct {
			Values [][]any `json:"values"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), nil
	}

	records := decoded.Data.Values
	if n.limit > 0 && len(records) > n.limit {
		records = records[:n.limit]
	}
	out, err := json.Marshal(records)
	if err != nil {
		return "", Err("neo4j-cypher", err)
	}
	return string(out), nil
}
