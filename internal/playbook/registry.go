package playbook

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"playbook-engine/internal/cache"
	"playbook-engine/internal/naming"
)

//go:embed definitions/*.json
var builtin embed.FS

// Catalog is an immutable, validated set of playbooks.
type Catalog struct {
	playbooks []*Playbook
	byID      map[string]*Playbook
	warnings  []string
}

// NewCatalog validates the playbooks and indexes them by id. A later playbook with
// the same id replaces an earlier one.
func NewCatalog(playbooks ...*Playbook) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Playbook, len(playbooks))}
	for _, p := range playbooks {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			c.warnings = append(c.warnings, fmt.Sprintf("playbook %s overridden", p.ID))
		}
		c.byID[p.ID] = p
		c.warnings = append(c.warnings, p.Warnings()...)
	}
	for _, p := range c.byID {
		c.playbooks = append(c.playbooks, p)
	}
	sort.Slice(c.playbooks, func(i, j int) bool { return c.playbooks[i].ID < c.playbooks[j].ID })
	return c, nil
}

// LoadCatalog reads the embedded playbooks plus every .json/.yaml/.yml file in dir
// (dir may be empty).
func LoadCatalog(dir string) (*Catalog, error) {
	playbooks, err := readDefinitions(builtin, "definitions")
	if err != nil {
		return nil, err
	}
	if dir != "" {
		extra, err := readDefinitions(os.DirFS(dir), ".")
		if err != nil {
			return nil, fmt.Errorf("playbook dir %s: %w", dir, err)
		}
		playbooks = append(playbooks, extra...)
	}
	return NewCatalog(playbooks...)
}

// ParseDefinition decodes one playbook file; the format follows the extension.
func ParseDefinition(name string, data []byte) (*Playbook, error) {
	p := &Playbook{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	default:
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

func readDefinitions(fsys fs.FS, dir string) ([]*Playbook, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []*Playbook
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, e.Name())))
		if err != nil {
			return nil, err
		}
		p, err := ParseDefinition(e.Name(), data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// All returns every playbook sorted by id.
func (c *Catalog) All() []*Playbook { return c.playbooks }

// Warnings collected while validating the catalogue.
func (c *Catalog) Warnings() []string { return c.warnings }

// Get looks a playbook up by id.
func (c *Catalog) Get(id string) (*Playbook, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// ByDomain returns the playbooks of a domain (case and accent insensitive).
func (c *Catalog) ByDomain(domain string) []*Playbook {
	want := naming.Fold(strings.TrimSpace(domain))
	var out []*Playbook
	for _, p := range c.playbooks {
		if naming.Fold(p.Domain) == want {
			out = append(out, p)
		}
	}
	return out
}

// Relevance counts how many of the query's words occur in the playbook's id,
// domain, description or column names.
func (p *Playbook) Relevance(query string) int {
	words := naming.Tokenize(query)
	if len(words) == 0 {
		return 0
	}
	vocab := map[string]bool{}
	add := func(s string) {
		for _, t := range naming.Tokenize(s) {
			vocab[t] = true
		}
	}
	add(p.ID)
	add(p.Domain)
	add(p.Description)
	for name := range p.RequiredColumns {
		add(name)
	}
	for name := range p.OptionalColumns {
		add(name)
	}
	hits := 0
	for _, w := range words {
		if vocab[w] {
			hits++
			continue
		}
		// light stemming for plurals: "vendas" ~ "venda"
		if len(w) > 3 && vocab[strings.TrimSuffix(w, "s")] {
			hits++
		}
	}
	return hits
}

// Search returns playbooks matching the free-text query, best match first.
func (c *Catalog) Search(query string) []*Playbook {
	type hit struct {
		p     *Playbook
		score int
	}
	var hits []hit
	for _, p := range c.playbooks {
		if s := p.Relevance(query); s > 0 {
			hits = append(hits, hit{p, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]*Playbook, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out
}

// FindCompatible returns the playbooks whose score is at least minScore, highest
// score first. This is candidate discovery only; acceptance is decided separately.
func (c *Catalog) FindCompatible(scores map[string]int, minScore int) []*Playbook {
	var out []*Playbook
	for _, p := range c.playbooks {
		if s, ok := scores[p.ID]; ok && s >= minScore {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return scores[out[i].ID] > scores[out[j].ID] })
	return out
}

// Registry serves the current Catalog, reloading it after the TTL.
type Registry struct {
	snap *cache.Snapshot[*Catalog]
}

// NewRegistry creates a registry backed by the embedded playbooks and dir.
func NewRegistry(dir string, ttl time.Duration, logger *zap.Logger) *Registry {
	return NewRegistryWithLoader(func(ctx context.Context) (*Catalog, error) {
		c, err := LoadCatalog(dir)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			for _, w := range c.Warnings() {
				logger.Warn("playbook warning", zap.String("warning", w))
			}
			logger.Info("playbooks loaded", zap.Int("count", len(c.All())), zap.String("dir", dir))
		}
		return c, nil
	}, ttl, logger)
}

// NewRegistryWithLoader creates a registry over a custom catalogue source.
func NewRegistryWithLoader(load cache.Loader[*Catalog], ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{snap: cache.NewSnapshot("playbooks", ttl, load, cache.WithLogger[*Catalog](logger))}
}

// NewStaticRegistry serves a fixed catalogue that never expires.
func NewStaticRegistry(c *Catalog) *Registry {
	return NewRegistryWithLoader(func(context.Context) (*Catalog, error) { return c, nil }, 0, nil)
}

// Catalog returns the current catalogue.
func (r *Registry) Catalog(ctx context.Context) (*Catalog, error) {
	return r.snap.Get(ctx)
}

// Reload forces a reload and returns the new catalogue.
func (r *Registry) Reload(ctx context.Context) (*Catalog, error) {
	return r.snap.Load(ctx)
}

// IsStale reports whether the next access reloads the catalogue.
func (r *Registry) IsStale() bool { return r.snap.IsStale() }

// Invalidate drops the cached catalogue.
func (r *Registry) Invalidate() { r.snap.Invalidate() }

// Get looks a playbook up by id in the current catalogue.
func (r *Registry) Get(ctx context.Context, id string) (*Playbook, error) {
	c, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.Get(id)
}

// ByDomain filters the current catalogue by domain.
func (r *Registry) ByDomain(ctx context.Context, domain string) ([]*Playbook, error) {
	c, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.ByDomain(domain), nil
}

// Search runs a free-text search over the current catalogue.
func (r *Registry) Search(ctx context.Context, query string) ([]*Playbook, error) {
	c, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.Search(query), nil
}

// FindCompatible runs candidate discovery over the current catalogue.
func (r *Registry) FindCompatible(ctx context.Context, scores map[string]int, minScore int) ([]*Playbook, error) {
	c, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.FindCompatible(scores, minScore), nil
}
