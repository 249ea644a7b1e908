// Package registry is the thread-safe block catalog: register,
// discover by id/category/search, and two coarse analysis stubs
// (dependency resolution, name-conflict compatibility checking) (spec
// §4.16).
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/metrics"
)

// Sentinel errors the registry's operations wrap with context via
// fmt.Errorf's %w.
var (
	ErrBlockNotFound  = errors.New("block not found")
	ErrDuplicateBlock = errors.New("duplicate block id")
	ErrValidation     = errors.New("block validation failed")
)

// Registry is a thread-safe map from block id to block, guarded by a
// reader-writer lock: concurrent lookups, exclusive writes (spec §5).
type Registry struct {
	mu     sync.RWMutex
	blocks map[string]block.Block
}

// New returns an empty registry.
func New() *Registry {
	metrics.RegisterComponent("registry", true, "initialized")
	return &Registry{blocks: make(map[string]block.Block)}
}

// Register validates and adds a block. Metadata validation checks only
// that metadata.Name and metadata.Version are non-empty; block.Block has
// no standalone parameterless Validate() the way the source registry's
// Block trait does.
func (r *Registry) Register(b block.Block) error {
	meta := b.Metadata()
	if meta.Name == "" {
		metrics.BlockRegistrationsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: block name cannot be empty", ErrValidation)
	}
	if meta.Version == "" {
		metrics.BlockRegistrationsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: block version cannot be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blocks[meta.ID]; exists {
		metrics.BlockRegistrationsTotal.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, meta.ID)
	}
	r.blocks[meta.ID] = b
	metrics.BlockRegistrationsTotal.WithLabelValues("registered").Inc()
	metrics.BlocksRegisteredTotal.Set(float64(len(r.blocks)))
	return nil
}

// Unregister removes a block by id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blocks[id]; !exists {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	delete(r.blocks, id)
	metrics.BlocksRegisteredTotal.Set(float64(len(r.blocks)))
	return nil
}

// Get returns a block by id.
func (r *Registry) Get(id string) (block.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, exists := r.blocks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	return b, nil
}

// List returns every registered block, ordered by id for deterministic
// output.
func (r *Registry) List() []block.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedBlocksLocked(func(block.Block) bool { return true })
}

// FilterByCategory returns every block whose Metadata().Category
// matches exactly.
func (r *Registry) FilterByCategory(category string) []block.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedBlocksLocked(func(b block.Block) bool {
		return b.Metadata().Category == category
	})
}

// Search matches query case-insensitively against name, description,
// and tags.
func (r *Registry) Search(query string) []block.Block {
	query = strings.ToLower(query)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedBlocksLocked(func(b block.Block) bool {
		meta := b.Metadata()
		if strings.Contains(strings.ToLower(meta.Name), query) {
			return true
		}
		if strings.Contains(strings.ToLower(meta.Description), query) {
			return true
		}
		for _, tag := range meta.Tags {
			if strings.Contains(strings.ToLower(tag), query) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) sortedBlocksLocked(keep func(block.Block) bool) []block.Block {
	ids := make([]string, 0, len(r.blocks))
	for id, b := range r.blocks {
		if keep(b) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]block.Block, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.blocks[id])
	}
	return out
}

// Count returns the number of registered blocks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.blocks[id]
	return exists
}

// Clear removes every registered block.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = make(map[string]block.Block)
	metrics.BlocksRegisteredTotal.Set(0)
}

// DependencyGraph is a node/edge set with cycle detection, used by
// ResolveDependencies. The registry's own dependency analysis is a stub
// (spec §4.16) that returns only nodes, no edges — the graph and its
// cycle detector exist in full so a caller can populate edges from a
// richer dependency source later without a type change.
type DependencyGraph struct {
	Nodes  []string
	Edges  [][2]string
	Cycles [][]string
}

func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{}
}

func (g *DependencyGraph) addNode(node string) {
	for _, n := range g.Nodes {
		if n == node {
			return
		}
	}
	g.Nodes = append(g.Nodes, node)
}

// AddEdge records a dependency edge from -> to.
func (g *DependencyGraph) AddEdge(from, to string) {
	g.Edges = append(g.Edges, [2]string{from, to})
}

// HasCycles reports whether DetectCycles found any cycle.
func (g *DependencyGraph) HasCycles() bool {
	return len(g.Cycles) > 0
}

// DetectCycles runs DFS cycle detection over the graph's edges and
// populates Cycles with every cycle's node path.
func (g *DependencyGraph) DetectCycles() {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycles [][]string

	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e[0]] = append(adj[e[0]], e[1])
	}

	var visit func(node string, path []string)
	visit = func(node string, path []string) {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, next := range adj[node] {
			if !visited[next] {
				visit(next, path)
			} else if recStack[next] {
				for i, n := range path {
					if n == next {
						cycle := append([]string(nil), path[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		recStack[node] = false
	}

	for _, node := range g.Nodes {
		if !visited[node] {
			visit(node, nil)
		}
	}

	g.Cycles = cycles
}

// ResolveDependencies verifies every block id exists and returns a
// DependencyGraph containing just those nodes — the registry has no
// richer dependency model to draw edges from (spec §4.16, "a stub
// returning the input node set").
func (r *Registry) ResolveDependencies(blockIDs []string) (*DependencyGraph, error) {
	graph := newDependencyGraph()
	for _, id := range blockIDs {
		if _, err := r.Get(id); err != nil {
			return nil, err
		}
		graph.addNode(id)
	}
	return graph, nil
}

// ConflictSeverity grades a compatibility conflict.
type ConflictSeverity string

const (
	SeverityError   ConflictSeverity = "error"
	SeverityWarning ConflictSeverity = "warning"
)

// Conflict describes one compatibility issue among a set of blocks.
type Conflict struct {
	BlockIDs []string
	Reason   string
	Severity ConflictSeverity
}

// CompatibilityResult is the outcome of CheckCompatibility.
type CompatibilityResult struct {
	Compatible bool
	Conflicts  []Conflict
}

// CheckCompatibility flags blocks sharing the same display name as a
// warning-level conflict (spec §4.16).
func (r *Registry) CheckCompatibility(blockIDs []string) (CompatibilityResult, error) {
	result := CompatibilityResult{Compatible: true}

	blocks := make([]block.Block, 0, len(blockIDs))
	for _, id := range blockIDs {
		b, err := r.Get(id)
		if err != nil {
			return CompatibilityResult{}, err
		}
		blocks = append(blocks, b)
	}

	byName := make(map[string][]string)
	for i, b := range blocks {
		meta := b.Metadata()
		byName[meta.Name] = append(byName[meta.Name], blockIDs[i])
	}

	var names []string
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ids := byName[name]
		if len(ids) > 1 {
			result.Compatible = false
			result.Conflicts = append(result.Conflicts, Conflict{
				BlockIDs: ids,
				Reason:   "multiple blocks with the same name: " + name,
				Severity: SeverityWarning,
			})
		}
	}

	return result, nil
}
