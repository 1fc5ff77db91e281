package main

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Category names as they appear in the generated data bundle.
const (
	CategoryGames  = "games"
	CategoryGuides = "guides"
	CategoryTopics = "topics"
)

type BundleEntry map[string]any

func (e BundleEntry) ID() string {
	switch v := e["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (e BundleEntry) Page() string {
	p, _ := e["page"].(string)
	return p
}

type Bundle struct {
	Version string
	Games   []BundleEntry
	Guides  []BundleEntry
	Topics  []BundleEntry
}

// parseBundle decodes the generated data bundle. Entries that are not objects
// or have no id are skipped.
func parseBundle(raw []byte) (*Bundle, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	b := &Bundle{}
	if v, ok := doc["version"]; ok {
		var version any
		if err := json.Unmarshal(v, &version); err == nil {
			b.Version = BundleEntry{"id": version}.ID()
		}
	}

	b.Games = parseEntries(doc[CategoryGames])
	b.Guides = parseEntries(doc[CategoryGuides])
	b.Topics = parseEntries(doc[CategoryTopics])

	return b, nil
}

func parseEntries(raw json.RawMessage) []BundleEntry {
	if len(raw) == 0 {
		return nil
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	entries := make([]BundleEntry, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}

		e := BundleEntry(obj)
		if e.ID() == "" {
			continue
		}

		entries = append(entries, e)
	}

	return entries
}
