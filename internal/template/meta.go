package template

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const metaFilename = "meta.yaml"

// readMeta loads one directory's meta.yaml, returning an empty map if the
// file is absent - mirroring GenieEnvironment.read_meta's FileNotFoundError
// handling in original_source/ai_state_machine/environment.go (there
// logged at debug level; here a missing meta.yaml is simply not an error).
func readMeta(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// mergeMetaChain walks root down to dir and shallow-merges each
// directory's meta.yaml over its parent's, child keys winning - the Go
// equivalent of _walk_directory_tree_upward + read_meta's
// `parent_config.update(meta)` in the original GenieEnvironment.
func mergeMetaChain(root, dir string) (map[string]any, error) {
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(rel, "..") {
		return nil, errNotUnderRoot(dir, root)
	}

	merged, err := readMeta(root)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return merged, nil
	}

	cur := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		layer, err := readMeta(cur)
		if err != nil {
			return nil, err
		}
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged, nil
}

func errNotUnderRoot(dir, root string) error {
	return &notUnderRootError{dir: dir, root: root}
}

type notUnderRootError struct {
	dir  string
	root string
}

func (e *notUnderRootError) Error() string {
	return "template directory " + e.dir + " is not part of the template root " + e.root
}
