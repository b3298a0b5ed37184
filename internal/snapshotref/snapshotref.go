// Package snapshotref extracts a primary snapshot reference from an opaque
// worker-response JSON blob. The worker output has no fixed schema, so
// extraction is a deep walk looking for the shape of a snapshot record
// rather than a strict decode.
package snapshotref

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// idKeys are the candidate field names carrying a snapshot-like id.
var idKeys = []string{"snapshot_id", "short_id", "id"}

// hintKeys are the candidate field names that mark an object as
// snapshot-shaped (present alongside an id key).
var hintKeys = []string{"time", "timestamp", "datetime", "paths", "summary", "tree", "parent"}

// Ref is an extracted snapshot reference.
type Ref struct {
	ID   string
	Time *time.Time
}

// Extract deep-walks blob and returns the primary snapshot reference: the
// candidate with the latest snapshot time, or the first candidate found if
// none carry a parseable time. Returns nil if no snapshot-shaped object is
// found.
func Extract(blob any) *Ref {
	candidates := ExtractAll(blob)
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// ExtractAll deep-walks blob and returns every snapshot-shaped candidate
// found, sorted by snapshot time descending (undated candidates last, in
// the order encountered). Used by the reconciliation sweeper, which must
// consider every snapshot a worker reports rather than just the latest.
func ExtractAll(blob any) []Ref {
	candidates := collect(blob, nil)
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i].Time, candidates[j].Time
		switch {
		case ti == nil && tj == nil:
			return false
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return candidates
}

func collect(node any, out []Ref) []Ref {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := asSnapshotRef(v); ok {
			out = append(out, ref)
		}
		for _, child := range v {
			out = collect(child, out)
		}
	case []any:
		for _, child := range v {
			out = collect(child, out)
		}
	}
	return out
}

func asSnapshotRef(obj map[string]any) (Ref, bool) {
	var id string
	for _, k := range idKeys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				id = s
				break
			}
		}
	}
	if id == "" {
		return Ref{}, false
	}

	hasHint := false
	for _, k := range hintKeys {
		if _, ok := obj[k]; ok {
			hasHint = true
			break
		}
	}
	if !hasHint {
		return Ref{}, false
	}

	ref := Ref{ID: id}
	for _, k := range []string{"time", "timestamp", "datetime"} {
		if v, ok := obj[k]; ok {
			if t := parseTime(v); t != nil {
				ref.Time = t
				break
			}
		}
	}

	return ref, true
}

func parseTime(v any) *time.Time {
	switch val := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, val); err == nil {
				return &t
			}
		}
	case float64:
		t := time.Unix(int64(val), 0).UTC()
		return &t
	case json.Number:
		if n, err := strconv.ParseInt(string(val), 10, 64); err == nil {
			t := time.Unix(n, 0).UTC()
			return &t
		}
	}
	return nil
}
