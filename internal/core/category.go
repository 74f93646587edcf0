package core

import "strings"

// Group is the coarse bucket a free-text category name falls into.
type Group string

const (
	GroupTarget    Group = "target"
	GroupSecondary Group = "secondary"
	GroupOther     Group = "other"
	GroupUnknown   Group = "unknown"
)

const (
	DefaultTargetMarker    = "smart"
	DefaultSecondaryMarker = "kpi"
)

// Classifier buckets category names by substring markers. The zero value uses
// the default markers.
type Classifier struct {
	TargetMarker    string
	SecondaryMarker string
}

func NewClassifier(targetMarker, secondaryMarker string) Classifier {
	return Classifier{TargetMarker: targetMarker, SecondaryMarker: secondaryMarker}
}

// Classify never fails: empty names are unknown, unmatched names fall into
// the catch-all group.
func (c Classifier) Classify(name string) Group {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return GroupUnknown
	}
	if m := normalizeMarker(c.TargetMarker, DefaultTargetMarker); strings.Contains(n, m) {
		return GroupTarget
	}
	if m := normalizeMarker(c.SecondaryMarker, DefaultSecondaryMarker); strings.Contains(n, m) {
		return GroupSecondary
	}
	return GroupOther
}

// FilterEvents keeps the events whose category lands in group, in order.
func (c Classifier) FilterEvents(events []EventRecord, group Group) []EventRecord {
	out := make([]EventRecord, 0, len(events))
	for _, e := range events {
		if c.Classify(e.CategoryName()) == group {
			out = append(out, e)
		}
	}
	return out
}

func normalizeMarker(marker, fallback string) string {
	m := strings.ToLower(strings.TrimSpace(marker))
	if m == "" {
		return fallback
	}
	return m
}
