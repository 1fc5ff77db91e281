package main

import (
	"slices"
	"strconv"
	"strings"
)

var defaultSkipKeys = []string{"id", "url", "image", "icon", "page"}

// DefaultFlattener joins every string leaf of an entry into one searchable
// blob. Keys are visited in sorted order so the blob is stable.
type DefaultFlattener struct {
	skipKeys []string
}

func NewDefaultFlattener(skip ...string) *DefaultFlattener {
	if len(skip) == 0 {
		skip = defaultSkipKeys
	}

	return &DefaultFlattener{skipKeys: skip}
}

func (f *DefaultFlattener) Flatten(entry BundleEntry) string {
	var parts []string
	f.collect(map[string]any(entry), &parts)

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func (f *DefaultFlattener) collect(v any, parts *[]string) {
	switch t := v.(type) {
	case string:
		*parts = append(*parts, t)
	case float64:
		*parts = append(*parts, strconv.FormatFloat(t, 'f', -1, 64))
	case []any:
		for _, it := range t {
			f.collect(it, parts)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if slices.Contains(f.skipKeys, k) {
				continue
			}
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, k := range keys {
			f.collect(t[k], parts)
		}
	}
}
