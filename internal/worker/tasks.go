// Package worker implements C5 (Worker Runtime, spec §4.5): the closed
// set of task functions a compiled DAG is built from, and the Runtime
// that walks a compiled signature tree executing them with progress
// callbacks.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/template"
)

// CustomTaskFunc is the signature a TaskRef-backed custom task must
// implement - the Go analogue of an arbitrary bare celery.Task leaf in
// the original composite template union (spec §4.4's TaskRef rule).
type CustomTaskFunc func(ctx context.Context, renderData map[string]any, sessionID string) (string, error)

// parseIfJSON decodes s as JSON if possible, otherwise returns s
// unchanged. Grounded on parse_if_json in
// original_source/genie_flow/celery/__init__.go.
func parseIfJSON(s string) any {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		return decoded
	}
	return s
}

// parseJSONDeep recursively applies parseIfJSON to strings nested inside
// lists and maps, matching chained_template's parse_result in
// original_source/genie_flow/celery/__init__.go.
func parseJSONDeep(v any) any {
	switch t := v.(type) {
	case string:
		return parseIfJSON(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = parseJSONDeep(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = parseJSONDeep(e)
		}
		return out
	default:
		return v
	}
}

// Invoke implements the `invoke` task (spec §4.5): render templateName
// against renderData and call its prefix's invoker.
func Invoke(ctx context.Context, env *template.Environment, renderData map[string]any, templateName string) (string, error) {
	return env.InvokeLeaf(ctx, templateName, renderData)
}

// ChainCtx implements the `chain_ctx` task: folds prevResult into a copy
// of renderData as previous_result/parsed_previous_result.
func ChainCtx(prevResult string, renderData map[string]any) map[string]any {
	next := make(map[string]any, len(renderData)+2)
	for k, v := range renderData {
		next[k] = v
	}
	next["previous_result"] = prevResult
	next["parsed_previous_result"] = parseJSONDeep(prevResult)
	return next
}

// CombineDict implements the `combine_dict` task: zips keys with
// parsed results and emits a JSON object.
func CombineDict(results []string, keys []string) (string, error) {
	if len(results) != len(keys) {
		return "", fmt.Errorf("combine_dict: %d results for %d keys", len(results), len(keys))
	}
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		out[k] = parseIfJSON(results[i])
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CombineList implements the `combine_list` task: emits a JSON array of
// parsed results, in order.
func CombineList(results []string) (string, error) {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = parseIfJSON(r)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mapItem is one per-element render-data snapshot produced by MapExpand.
type mapItem struct {
	RenderData map[string]any
}

// MapExpand implements the runtime half of the `map` task (spec §4.4/§4.5):
// resolves spec.ListPath against renderData and returns one augmented
// render-data map per element, carrying the index/value fields the item
// template is rendered with.
func MapExpand(renderData map[string]any, spec *template.MapOverSpec) ([]map[string]any, error) {
	list, err := compiler.ResolveList(spec.ListPath, renderData)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, len(list))
	for i, v := range list {
		item := make(map[string]any, len(renderData)+2)
		for k, vv := range renderData {
			item[k] = vv
		}
		item[spec.IndexField] = i
		item[spec.ValueField] = v
		items[i] = item
	}
	return items, nil
}
