package postproc

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// DictionaryCorrector rewrites known misrecognitions using the user
// dictionary from settings. Matching is a single left-to-right pass with
// the longest entry winning at each position, so replaced text is never
// rescanned by another entry.
type DictionaryCorrector struct {
	mu      sync.RWMutex
	entries []dictEntry
}

type dictEntry struct {
	from string
	to   string
}

// NewDictionaryCorrector builds a corrector from from→to pairs.
func NewDictionaryCorrector(dictionary map[string]string) *DictionaryCorrector {
	c := &DictionaryCorrector{}
	c.Replace(dictionary)
	return c
}

// Replace swaps in a new dictionary; settings updates call this live.
func (c *DictionaryCorrector) Replace(dictionary map[string]string) {
	entries := make([]dictEntry, 0, len(dictionary))
	for from, to := range dictionary {
		if from == "" {
			continue
		}
		entries = append(entries, dictEntry{from: from, to: to})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].from) != len(entries[j].from) {
			return len(entries[i].from) > len(entries[j].from)
		}
		return entries[i].from < entries[j].from
	})

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

func (c *DictionaryCorrector) Correct(_ context.Context, text string) (string, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	if len(entries) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		matched := false
		for _, e := range entries {
			if strings.HasPrefix(text[i:], e.from) {
				b.WriteString(e.to)
				i += len(e.from)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		b.WriteString(text[i : i+size])
		i += size
	}
	return b.String(), nil
}
