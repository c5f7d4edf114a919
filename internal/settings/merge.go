package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

var ErrInvalidPath = errors.New("invalid setting path")

func toMap(v any) (map[string]any, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any, out any) error {
	data, err := sonic.Marshal(m)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, out)
}

// deepMerge copies src into dst. Nested objects merge key by key; arrays
// and scalars replace.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		target, ok := dst[k].(map[string]any)
		if !ok {
			target = make(map[string]any)
			dst[k] = target
		}
		deepMerge(target, sub)
	}
}

// setPath assigns value at a dot-separated path, creating objects on the
// way.
func setPath(m map[string]any, path string, value any) error {
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}

	cur := m
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			if _, exists := cur[k]; exists && cur[k] != nil {
				return fmt.Errorf("%w: %q is not an object", ErrInvalidPath, k)
			}
			next = make(map[string]any)
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
	return nil
}
