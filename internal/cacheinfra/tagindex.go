package cacheinfra

// tagIndex maps tag -> set of keys. It is not safe for concurrent use; owners
// guard it with the same lock that guards their entries, so an entry and its
// index registrations change together.
//
// The index is an optimization: a key listed under a tag whose entry is gone
// is simply skipped (and dropped) when the tag is invalidated.
type tagIndex struct {
	sets  map[string]map[string]struct{}
	pairs int
}

func newTagIndex() *tagIndex {
	return &tagIndex{sets: make(map[string]map[string]struct{})}
}

func (ix *tagIndex) add(key string, tags []string) {
	for _, tag := range tags {
		set, ok := ix.sets[tag]
		if !ok {
			set = make(map[string]struct{})
			ix.sets[tag] = set
		}
		if _, exists := set[key]; !exists {
			set[key] = struct{}{}
			ix.pairs++
		}
	}
}

func (ix *tagIndex) remove(key string, tags []string) {
	for _, tag := range tags {
		set, ok := ix.sets[tag]
		if !ok {
			continue
		}
		if _, exists := set[key]; exists {
			delete(set, key)
			ix.pairs--
		}
		if len(set) == 0 {
			delete(ix.sets, tag)
		}
	}
}

// take removes the given tags from the index and returns the union of their keys.
func (ix *tagIndex) take(tags []string) []string {
	var keys []string
	seen := make(map[string]struct{})
	for _, tag := range tags {
		set, ok := ix.sets[tag]
		if !ok {
			continue
		}
		for key := range set {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
		ix.pairs -= len(set)
		delete(ix.sets, tag)
	}
	return keys
}

// prune drops every key for which live reports false.
func (ix *tagIndex) prune(live func(key string) bool) int {
	dropped := 0
	for tag, set := range ix.sets {
		for key := range set {
			if !live(key) {
				delete(set, key)
				ix.pairs--
				dropped++
			}
		}
		if len(set) == 0 {
			delete(ix.sets, tag)
		}
	}
	return dropped
}

func (ix *tagIndex) size() int {
	return ix.pairs
}

func (ix *tagIndex) tagCount() int {
	return len(ix.sets)
}
