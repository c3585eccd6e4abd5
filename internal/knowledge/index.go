package knowledge

import (
	"strings"
	"unicode"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

const minKeywordLen = 3

// keywordIndex maps lowercase keywords to the ids of entries containing them.
type keywordIndex struct {
	byWord map[string]map[string]struct{}
	byID   map[string][]string
}

func newKeywordIndex() *keywordIndex {
	return &keywordIndex{
		byWord: make(map[string]map[string]struct{}),
		byID:   make(map[string][]string),
	}
}

// keywords tokenizes the title, content and tags of k.
func keywords(k *types.Knowledge) []string {
	text := k.Title + " " + k.Content + " " + strings.Join(k.Tags, " ")
	return tokenize(text)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < minKeywordLen || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func (ix *keywordIndex) add(k *types.Knowledge) {
	ix.remove(k.ID)
	words := keywords(k)
	for _, w := range words {
		ids, ok := ix.byWord[w]
		if !ok {
			ids = make(map[string]struct{})
			ix.byWord[w] = ids
		}
		ids[k.ID] = struct{}{}
	}
	ix.byID[k.ID] = words
}

func (ix *keywordIndex) remove(id string) {
	for _, w := range ix.byID[id] {
		delete(ix.byWord[w], id)
		if len(ix.byWord[w]) == 0 {
			delete(ix.byWord, w)
		}
	}
	delete(ix.byID, id)
}

// match returns ids containing every keyword of query, in no particular
// order. A query without keywords matches nothing.
func (ix *keywordIndex) match(query string) []string {
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}
	var out []string
	for id := range ix.byWord[words[0]] {
		all := true
		for _, w := range words[1:] {
			if _, ok := ix.byWord[w][id]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, id)
		}
	}
	return out
}

func (ix *keywordIndex) size() int { return len(ix.byWord) }
