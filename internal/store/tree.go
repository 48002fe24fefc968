package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"karaoke/internal/core"
)

// The document is a JSON tree of map[string]any, []any, string, float64 and
// bool. Committed trees are never mutated in place: writes copy the maps along
// the written path and share every untouched subtree with the previous root.

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func validatePath(path string) ([]string, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty path", core.ErrInvalid)
	}
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in path %q", core.ErrInvalid, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return nil, fmt.Errorf("%w: illegal character in path %q", core.ErrInvalid, path)
		}
	}
	return segs, nil
}

// toTree converts an arbitrary Go value into the document's JSON tree form,
// dropping nulls and empty containers the way the store never keeps them.
func toTree(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode value: %w", core.ErrInvalid, err)
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: decode value: %w", core.ErrInvalid, err)
	}
	return prune(tree), nil
}

func prune(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			child = prune(child)
			if child == nil {
				delete(v, k)
				continue
			}
			v[k] = child
		}
		if len(v) == 0 {
			return nil
		}
		return v
	case []any:
		empty := true
		for i, child := range v {
			v[i] = prune(child)
			if v[i] != nil {
				empty = false
			}
		}
		if empty {
			return nil
		}
		return v
	default:
		return v
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// lookup walks segs from node. Arrays are addressed by index.
func lookup(node any, segs []string) any {
	for _, seg := range segs {
		switch v := node.(type) {
		case map[string]any:
			node = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			node = v[i]
		default:
			return nil
		}
		if node == nil {
			return nil
		}
	}
	return node
}

func asMap(node any) map[string]any {
	switch v := node.(type) {
	case map[string]any:
		return v
	case []any:
		out := make(map[string]any, len(v))
		for i, child := range v {
			if child != nil {
				out[strconv.Itoa(i)] = child
			}
		}
		return out
	default:
		return nil
	}
}

// withPath returns a copy of node with value written at segs. A nil value
// deletes; parents left empty by a delete are removed too.
func withPath(node map[string]any, segs []string, value any) map[string]any {
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = v
	}

	head := segs[0]
	if len(segs) == 1 {
		if value == nil {
			delete(out, head)
		} else {
			out[head] = value
		}
		return out
	}

	child := withPath(asMap(out[head]), segs[1:], value)
	if len(child) == 0 {
		delete(out, head)
	} else {
		out[head] = child
	}
	return out
}

// checkOverlap rejects patches where one path is an ancestor of another;
// the result of such a patch would depend on application order.
func checkOverlap(paths []string) error {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	for _, p := range paths {
		segs := strings.Split(p, "/")
		for i := 1; i < len(segs); i++ {
			ancestor := strings.Join(segs[:i], "/")
			if _, ok := set[ancestor]; ok {
				return fmt.Errorf("%w: overlapping paths %q and %q", core.ErrInvalid, ancestor, p)
			}
		}
	}
	return nil
}

// touches reports whether a write at changed is visible to a subscriber at watched.
func touches(watched, changed string) bool {
	if watched == "" || watched == changed {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/")
}
