package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SegmentKey partitions demand and entities for independent clustering and
// scoring: a product category within a region.
type SegmentKey struct {
	Category string `json:"category" yaml:"category"`
	Region   string `json:"region,omitempty" yaml:"region"`
}

// NewSegmentKey builds a SegmentKey with NFC-normalized, whitespace-collapsed
// parts so that visually identical labels from different sources group together.
func NewSegmentKey(category, region string) SegmentKey {
	return SegmentKey{Category: normalizeLabel(category), Region: normalizeLabel(region)}
}

// IsZero reports whether the key has no category. Region alone is not a segment.
func (k SegmentKey) IsZero() bool { return k.Category == "" }

// String renders the key as "category/region", or just the category when no
// region is set.
func (k SegmentKey) String() string {
	if k.Region == "" {
		return k.Category
	}
	return k.Category + "/" + k.Region
}

// Less orders keys by category, then region.
func (k SegmentKey) Less(o SegmentKey) bool {
	if k.Category != o.Category {
		return k.Category < o.Category
	}
	return k.Region < o.Region
}

// ParseSegmentKey is the inverse of String.
func ParseSegmentKey(s string) SegmentKey {
	category, region, _ := strings.Cut(s, "/")
	return NewSegmentKey(category, region)
}

func normalizeLabel(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
