package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// SegmentSeparator joins the segments of a cache key.
	SegmentSeparator = ":"

	// MaxTagsPerEntry bounds the tag set attached to a single entry.
	MaxTagsPerEntry = 32

	// MaxTagLength bounds the byte length of a single tag.
	MaxTagLength = 256

	queryTagSuffix = "queries"
)

// segmentEscaper keeps segments free of the separator so that keys are injective.
var segmentEscaper = strings.NewReplacer("%", "%25", SegmentSeparator, "%3A")

// BuildKey composes namespace:prefix:operation:identifier.
// Every segment is escaped, so two distinct inputs never produce the same key.
// Changing the namespace moves every key into a new generation.
func BuildKey(namespace, prefix, operation, identifier string) (string, error) {
	if operation == "" {
		return "", invalidArgument("operation type is required")
	}
	if identifier == "" {
		return "", invalidArgument("identifier is required")
	}

	var b strings.Builder
	b.Grow(len(namespace) + len(prefix) + len(operation) + len(identifier) + 3)
	for i, seg := range []string{namespace, prefix, operation, identifier} {
		if i > 0 {
			b.WriteString(SegmentSeparator)
		}
		b.WriteString(segmentEscaper.Replace(seg))
	}
	return b.String(), nil
}

// Tag segments are escaped like key segments. A collection tag has no
// separator, an entity tag has one and a query tag has an empty middle
// segment, so the three shapes never collide.

// CollectionTag returns the tag carried by every entry of an entity type.
func CollectionTag(entityType string) string {
	return segmentEscaper.Replace(entityType)
}

// EntityTag returns the tag carried by entries of a single entity.
func EntityTag(entityType, entityID string) string {
	return segmentEscaper.Replace(entityType) + SegmentSeparator + segmentEscaper.Replace(entityID)
}

// QueryTag returns the tag carried by cached query results of an entity type,
// "user::queries" for "user".
func QueryTag(entityType string) string {
	return segmentEscaper.Replace(entityType) + SegmentSeparator + SegmentSeparator + queryTagSuffix
}

// BuildTags returns the collection tag, the entity tag and any extra tags,
// deduplicated in that order.
func BuildTags(entityType, entityID string, extra ...string) ([]string, error) {
	if entityType == "" {
		return nil, invalidArgument("entity type is required")
	}
	if entityID == "" {
		return nil, invalidArgument("entity id is required")
	}

	tags := make([]string, 0, len(extra)+2)
	tags = append(tags, CollectionTag(entityType), EntityTag(entityType, entityID))
	tags = append(tags, extra...)
	tags = DedupeTags(tags)

	if err := ValidateTags(tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// ValidateTags enforces the per entry tag bounds.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTagsPerEntry {
		return invalidArgument("%d tags exceeds the limit of %d", len(tags), MaxTagsPerEntry)
	}
	for _, tag := range tags {
		if tag == "" {
			return invalidArgument("empty tag")
		}
		if len(tag) > MaxTagLength {
			return invalidArgument("tag %.32q... exceeds %d bytes", tag, MaxTagLength)
		}
	}
	return nil
}

// DedupeTags removes duplicates and empty strings, keeping first occurrence order.
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Fingerprint hashes a serialized query into a compact identifier segment.
// It is meant for values produced by a KeySerializer, whose output can be
// arbitrarily long; collisions are possible in theory (64 bit space).
func Fingerprint(serialized string) string {
	return strconv.FormatUint(xxhash.Sum64String(serialized), 16)
}
