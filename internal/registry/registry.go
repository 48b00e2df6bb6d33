// Package registry maintains the discovery registry other parts of the
// system use to see which agents exist and where their definitions live.
//
// The registry is refreshed by the lifecycle manager after every mutating
// operation. Refresh failures are logged by the caller and never fail the
// originating operation.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kanri/internal/content"
)

// Lister is the subset of the content store the registry needs.
type Lister interface {
	List(tier string) (map[string]content.Summary, error)
}

// Entry describes one discovered agent definition. When the same name
// exists in several tiers the entry reflects the highest-precedence one.
type Entry struct {
	Name     string    `json:"name"`
	Tier     string    `json:"tier"`
	Path     string    `json:"path"`
	SyncedAt time.Time `json:"synced_at"`
}

// Registry is an in-memory discovery registry over the tiered content store.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	store   Lister
}

// New creates an empty registry over the given content store.
func New(store Lister) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		store:   store,
	}
}

// Refresh rescans the tier directories and rebuilds the registry. A
// non-empty name refreshes just that agent; an empty name rebuilds
// everything. Tiers are scanned concurrently.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	type tierListing struct {
		tier    string
		listing map[string]content.Summary
	}

	tiers := []string{content.TierSystem, content.TierUser, content.TierProject}
	listings := make([]tierListing, len(tiers))

	g, _ := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			listing, err := r.store.List(tier)
			if err != nil {
				return fmt.Errorf("registry: scan %s tier: %w", tier, err)
			}
			listings[i] = tierListing{tier: tier, listing: listing}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()
	fresh := make(map[string]Entry)
	// Ascending precedence: later tiers overwrite earlier ones, so the
	// surviving entry for a shadowed name is the highest-precedence tier.
	for _, tl := range listings {
		for agentName, summary := range tl.listing {
			fresh[agentName] = Entry{
				Name:     agentName,
				Tier:     tl.tier,
				Path:     summary.Path,
				SyncedAt: now,
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		r.entries = fresh
		return nil
	}
	if entry, ok := fresh[name]; ok {
		r.entries[name] = entry
	} else {
		delete(r.entries, name)
	}
	return nil
}

// Lookup returns the registry entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Snapshot returns a copy of all current entries.
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
