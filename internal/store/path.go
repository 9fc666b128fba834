package store

import (
	"fmt"
	"strconv"
	"strings"
)

// SetPath sets the value at a dot-separated path inside doc. Missing or
// null intermediate objects are created; numeric segments index arrays
// when the parent is an array and are plain keys otherwise.
func SetPath(doc Document, path string, v any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	var cur any = map[string]any(doc)
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = v
				return nil
			}
			next := node[seg]
			if next == nil {
				m := map[string]any{}
				node[seg] = m
				next = m
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("%w: %q: index %q out of range", ErrBadPath, path, seg)
			}
			if last {
				node[idx] = v
				return nil
			}
			if node[idx] == nil {
				node[idx] = map[string]any{}
			}
			cur = node[idx]
		default:
			return fmt.Errorf("%w: %q: %q is not an object", ErrBadPath, path, strings.Join(segs[:i], "."))
		}
	}
	return nil
}

// GetPath returns the value at path, or false if any segment is missing.
func GetPath(doc Document, path string) (any, bool) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = map[string]any(doc)
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) ([]string, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return segs, nil
}
