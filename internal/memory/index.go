package memory

import "strings"

// minKeywordLen is the shortest content word that gets indexed.
const minKeywordLen = 4

// keywordIndex maps lowercase content words and tags to event ids.
type keywordIndex map[string]map[string]struct{}

func (ix keywordIndex) add(e *Event) {
	for _, key := range indexKeys(e) {
		ids, ok := ix[key]
		if !ok {
			ids = make(map[string]struct{})
			ix[key] = ids
		}
		ids[e.ID] = struct{}{}
	}
}

func (ix keywordIndex) remove(e *Event) {
	for _, key := range indexKeys(e) {
		if ids, ok := ix[key]; ok {
			delete(ids, e.ID)
			if len(ids) == 0 {
				delete(ix, key)
			}
		}
	}
}

func indexKeys(e *Event) []string {
	var keys []string
	for _, w := range tokenize(e.Content) {
		if len(w) >= minKeywordLen {
			keys = append(keys, w)
		}
	}
	for _, t := range e.Tags {
		keys = append(keys, strings.ToLower(t))
	}
	return keys
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
}
