package search

import (
	"encoding/json"
	"math"
	"strconv"
)

const (
	TypeInit   = "INIT"
	TypeReady  = "READY"
	TypeQuery  = "QUERY"
	TypeResult = "RESULT"
)

type InitMessage struct {
	Version string
	Pool    Pool
}

type QueryMessage struct {
	RequestID int64
	Query     string
	Limits    Limits
}

type ReadyMessage struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

type ResultMessage struct {
	Type      string   `json:"type"`
	RequestID int64    `json:"requestId"`
	Games     []string `json:"games"`
	Guides    []string `json:"guides"`
	Topics    []string `json:"topics"`
}

// DecodeMessage parses a raw worker message. Malformed input never produces an
// error: the message is either ignored (nil, false) or its fields fall back to
// safe defaults.
func DecodeMessage(raw []byte) (any, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}

	switch asString(m["type"]) {
	case TypeInit:
		return InitMessage{
			Version: asString(m["version"]),
			Pool:    decodePool(m["pool"]),
		}, true
	case TypeQuery:
		return QueryMessage{
			RequestID: asInt64(m["requestId"]),
			Query:     asString(m["query"]),
			Limits:    decodeLimits(m["limits"]),
		}, true
	default:
		return nil, false
	}
}

func decodePool(v any) Pool {
	m, _ := v.(map[string]any)
	return Pool{
		Games:  decodeEntries(m["games"]),
		Guides: decodeEntries(m["guides"]),
		Topics: decodeEntries(m["topics"]),
	}
}

func decodeEntries(v any) []Entry {
	items, _ := v.([]any)
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}

		entries = append(entries, Entry{
			ID:   asString(obj["id"]),
			Blob: asString(obj["blob"]),
		})
	}

	return entries
}

func decodeLimits(v any) Limits {
	m, _ := v.(map[string]any)
	return Limits{
		Games:  limitOf(m, "games"),
		Guides: limitOf(m, "guides"),
		Topics: limitOf(m, "topics"),
	}
}

func limitOf(m map[string]any, key string) int {
	f, ok := m[key].(float64)
	if !ok || math.IsNaN(f) {
		return DefaultLimit
	}

	return ClampLimit(int(max(min(f, MaxLimit), 0)))
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	return int64(f)
}
