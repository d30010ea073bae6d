package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"playbook-engine/internal/cache"
	"playbook-engine/internal/naming"
)

//go:embed synonyms.json
var defaultSynonyms []byte

// FuzzyMatchThreshold is the minimum Levenshtein ratio for a fuzzy dictionary hit.
const FuzzyMatchThreshold = 0.85

// Dictionary resolves column names to canonical semantic names.
type Dictionary struct {
	synonyms map[string][]string // canonical -> normalized synonyms
	lookup   map[string]string   // normalized term -> canonical
	terms    []string
	memo     *expirable.LRU[string, string]
}

// NewDictionary builds a dictionary from canonical -> synonyms entries. Resolved
// names are memoized in an LRU of memoSize entries for memoTTL.
func NewDictionary(entries map[string][]string, memoSize int, memoTTL time.Duration) *Dictionary {
	if memoSize <= 0 {
		memoSize = 1024
	}
	d := &Dictionary{
		synonyms: make(map[string][]string, len(entries)),
		lookup:   make(map[string]string),
		memo:     expirable.NewLRU[string, string](memoSize, nil, memoTTL),
	}
	canonicals := make([]string, 0, len(entries))
	for c := range entries {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)

	for _, raw := range canonicals {
		canonical := naming.Normalize(raw)
		if canonical == "" {
			continue
		}
		if _, taken := d.lookup[canonical]; !taken {
			d.lookup[canonical] = canonical
		}
		for _, s := range entries[raw] {
			n := naming.Normalize(s)
			if n == "" {
				continue
			}
			d.synonyms[canonical] = append(d.synonyms[canonical], n)
			if _, taken := d.lookup[n]; !taken {
				d.lookup[n] = canonical
			}
		}
	}
	for term := range d.lookup {
		d.terms = append(d.terms, term)
	}
	sort.Strings(d.terms)
	return d
}

// ParseDictionary decodes a JSON canonical -> synonyms document.
func ParseDictionary(data []byte) (map[string][]string, error) {
	var entries map[string][]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse synonym dictionary: %w", err)
	}
	return entries, nil
}

// DefaultDictionary returns the embedded PT/EN dictionary.
func DefaultDictionary() *Dictionary {
	entries, err := ParseDictionary(defaultSynonyms)
	if err != nil {
		panic(err)
	}
	return NewDictionary(entries, 0, 0)
}

// Canonicalize returns the canonical name for a column name: an exact dictionary hit
// on the normalized name first, then the best fuzzy hit at FuzzyMatchThreshold,
// else the normalized name itself.
func (d *Dictionary) Canonicalize(name string) string {
	n := naming.Normalize(name)
	if n == "" {
		return ""
	}
	if c, ok := d.memo.Get(n); ok {
		return c
	}
	c := d.resolve(n)
	d.memo.Add(n, c)
	return c
}

func (d *Dictionary) resolve(n string) string {
	if c, ok := d.lookup[n]; ok {
		return c
	}
	best, bestRatio := "", 0.0
	for _, term := range d.terms {
		r := naming.LevenshteinRatio(n, term)
		if r > bestRatio {
			best, bestRatio = term, r
		}
	}
	if bestRatio >= FuzzyMatchThreshold {
		return d.lookup[best]
	}
	return n
}

// Known reports whether the normalized name is a dictionary term.
func (d *Dictionary) Known(name string) bool {
	_, ok := d.lookup[naming.Normalize(name)]
	return ok
}

// Synonyms returns the normalized synonyms of a canonical name, or of the canonical
// name the given term resolves to exactly.
func (d *Dictionary) Synonyms(name string) []string {
	n := naming.Normalize(name)
	if c, ok := d.lookup[n]; ok {
		n = c
	}
	return d.synonyms[n]
}

// DictionaryStore keeps the process-wide dictionary snapshot.
type DictionaryStore struct {
	snap *cache.Snapshot[*Dictionary]
}

// NewDictionaryStore loads from path (the embedded dictionary when empty) and
// reloads after ttl.
func NewDictionaryStore(path string, ttl time.Duration, memoSize int, logger *zap.Logger) *DictionaryStore {
	load := func(ctx context.Context) (*Dictionary, error) {
		data := defaultSynonyms
		if path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read synonym dictionary: %w", err)
			}
			data = b
		}
		entries, err := ParseDictionary(data)
		if err != nil {
			return nil, err
		}
		// the memo lives exactly as long as its snapshot
		return NewDictionary(entries, memoSize, 0), nil
	}
	return &DictionaryStore{snap: cache.NewSnapshot("synonyms", ttl, load, cache.WithLogger[*Dictionary](logger))}
}

// Get returns the current dictionary.
func (s *DictionaryStore) Get(ctx context.Context) (*Dictionary, error) {
	return s.snap.Get(ctx)
}

// Invalidate forces a reload on next use.
func (s *DictionaryStore) Invalidate() { s.snap.Invalidate() }
