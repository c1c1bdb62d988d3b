package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// WeaviateInvoker runs a nearText similarity search against a Weaviate
// class, returning the top matches as a JSON array. Satisfies spec §4.7's
// "Weaviate-similarity" invoker kind; grounded on
// original_source/ai_state_machine/invoker/weaviate.py's class/properties/
// limit config resolution.
type WeaviateInvoker struct {
	client     *weaviate.Client
	class      string
	properties []string
	limit      int
	certainty  float32
}

// NewWeaviateInvoker builds a WeaviateInvoker from meta.yaml's invoker
// config: scheme (default http), host (required), class_name (required),
// properties (list of strings, required), limit (default 10), certainty
// (default 0.7).
func NewWeaviateInvoker(cfg Config) (Invoker, error) {
	host := cfg.String("host", "")
	if host == "" {
		return nil, fmt.Errorf("weaviate invoker requires a 'host' config value")
	}
	class := cfg.String("class_name", "")
	if class == "" {
		return nil, fmt.Errorf("weaviate invoker requires a 'class_name' config value")
	}
	var properties []string
	if raw, ok := cfg["properties"]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				properties = append(properties, fmt.Sprint(v))
			}
		}
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("weaviate invoker requires a non-empty 'properties' config value")
	}

	cfgv := weaviate.Config{
		Scheme: cfg.String("scheme", "http"),
		Host:   host,
	}
	client, err := weaviate.NewClient(cfgv)
	if err != nil {
		return nil, fmt.Errorf("building weaviate client: %w", err)
	}

	certainty := 0.7
	if v, ok := cfg["certainty"]; ok {
		if f, ok := v.(float64); ok {
			certainty = f
		}
	}

	return &WeaviateInvoker{
		client:     client,
		class:      class,
		properties: properties,
		limit:      cfg.Int("limit", 10),
		certainty:  float32(certainty),
	}, nil
}

// Invoke implements Invoker. content is the free-text query concept; the
// result is the matched objects' configured properties, marshaled as JSON.
func (w *WeaviateInvoker) Invoke(ctx context.Context, content string) (string, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{content}).
		WithCertainty(w.certainty)

	fields := make([]graphql.Field, 0, len(w.properties))
	for _, p := range w.properties {
		fields = append(fields, graphql.Field{Name: p})
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(w.limit).
		Do(ctx)
	if err != nil {
		return "", Err("weaviate-similarity", err)
	}
	if len(result.Errors) > 0 {
		return "", Err("weaviate-similarity", fmt.Errorf("%v", result.Errors))
	}

	out, err := json.Marshal(result.Data)
	if err != nil {
		return "", Err("weaviate-similarity", err)
	}
	return string(out), nil
}
