// Package catalog serves the venue's tables, join groups and per-party-size
// priority lists.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/ordering"
	"table-allocation-backend/internal/store"
)

// DefaultCacheTTL bounds how long a stored priority list is served from memory.
const DefaultCacheTTL = 5 * time.Minute

// Directory reads the resource catalog and owns every priority rewrite.
type Directory struct {
	store store.Store
	cache *cache.Cache
	gens  *generations
	log   *zap.Logger
}

// NewDirectory creates a directory. A nil cache disables priority caching.
func NewDirectory(s store.Store, c *cache.Cache, log *zap.Logger) *Directory {
	return &Directory{store: s, cache: c, gens: &generations{seq: map[int]uint64{}}, log: log}
}

// WithStore returns a directory reading through s (usually a transaction)
// that shares this directory's cache.
func (d *Directory) WithStore(s store.Store) *Directory {
	return &Directory{store: s, cache: d.cache, gens: d.gens, log: d.log}
}

// generations counts priority rewrites per party size. A list read before a
// rewrite was invalidated must not be cached after it.
type generations struct {
	mu  sync.Mutex
	seq map[int]uint64
}

func (g *generations) current(partySize int) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq[partySize]
}

// ListActiveTables returns the tables that may take part in availability.
// Tables are always read from the store so a retired table drops out at once.
func (d *Directory) ListActiveTables(ctx context.Context) ([]model.Table, error) {
	return d.store.ListActiveTables(ctx)
}

// ListJoinGroups returns the non-deleted groups whose members are all active.
func (d *Directory) ListJoinGroups(ctx context.Context) ([]model.JoinGroup, error) {
	return d.store.ListJoinGroups(ctx)
}

// RetireTable soft-deletes a table.
func (d *Directory) RetireTable(ctx context.Context, id string) error {
	if err := d.store.SoftDeleteTable(ctx, id); err != nil {
		return err
	}
	d.log.Info("table retired", zap.String("table_id", id))
	return nil
}

func cacheKey(partySize int) string {
	return fmt.Sprintf("priority:%d", partySize)
}

// PriorityOrder returns the preference list for partySize. Without stored
// entries it falls back to the default order: ascending capacity, tables
// before join groups, then table priority rank and label.
func (d *Directory) PriorityOrder(ctx context.Context, partySize int) ([]model.PriorityItem, error) {
	if d.cache != nil {
		if cached, ok := d.cache.Get(cacheKey(partySize)); ok {
			return append([]model.PriorityItem(nil), cached.([]model.PriorityItem)...), nil
		}
	}

	gen := d.gens.current(partySize)
	entries, err := d.store.ListPriorityEntries(ctx, partySize, false)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		items := make([]model.PriorityItem, len(entries))
		for i, e := range entries {
			items[i] = e.Item()
		}
		d.remember(partySize, gen, items)
		return items, nil
	}

	tables, err := d.store.ListActiveTables(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := d.store.ListJoinGroups(ctx)
	if err != nil {
		return nil, err
	}
	return DefaultOrder(tables, groups), nil
}

// DefaultOrder is the synthesized preference list used when a party size has
// no stored priorities.
func DefaultOrder(tables []model.Table, groups []model.JoinGroup) []model.PriorityItem {
	type ranked struct {
		item     model.PriorityItem
		capacity int
		rank     int
		label    string
	}

	all := make([]ranked, 0, len(tables)+len(groups))
	for _, t := range tables {
		all = append(all, ranked{
			item:     model.PriorityItem{Type: model.ItemTypeTable, ID: t.ID},
			capacity: t.SeatCount,
			rank:     t.PriorityRank,
			label:    t.Label,
		})
	}
	for _, g := range groups {
		all = append(all, ranked{
			item:     model.PriorityItem{Type: model.ItemTypeJoinGroup, ID: g.ID},
			capacity: g.MaxPartySize,
			label:    g.Name,
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.capacity != b.capacity {
			return a.capacity < b.capacity
		}
		if a.item.Type != b.item.Type {
			return a.item.Type == model.ItemTypeTable
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.label != b.label {
			return a.label < b.label
		}
		return a.item.ID < b.item.ID
	})

	items := make([]model.PriorityItem, len(all))
	for i, r := range all {
		items[i] = r.item
	}
	return items
}

// ValidateRanks checks that entries carry each rank 1..N exactly once.
func ValidateRanks(entries []model.PriorityEntry) error {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.Rank < 1 || e.Rank > len(entries) {
			return apperr.Integrity("catalog.ValidateRanks", "party size %d: rank %d outside 1..%d", e.PartySize, e.Rank, len(entries))
		}
		if seen[e.Rank] {
			return apperr.Integrity("catalog.ValidateRanks", "party size %d: rank %d is duplicated", e.PartySize, e.Rank)
		}
		seen[e.Rank] = true
	}
	return nil
}

// ReorderPriorities rewrites the ranks of partySize to follow ordered, which
// must be a permutation of the stored entries.
func (d *Directory) ReorderPriorities(ctx context.Context, partySize int, ordered []model.PriorityItem) error {
	return d.rewrite(ctx, "catalog.ReorderPriorities", partySize, func(current []model.PriorityItem) ([]model.PriorityItem, error) {
		if len(ordered) != len(current) {
			return nil, apperr.Validation("catalog.ReorderPriorities", "expected %d items, got %d", len(current), len(ordered))
		}
		remaining := make(map[model.PriorityItem]bool, len(current))
		for _, item := range current {
			remaining[item] = true
		}
		for _, item := range ordered {
			if !remaining[item] {
				return nil, apperr.Validation("catalog.ReorderPriorities", "%s %s is unknown or repeated", item.Type, item.ID)
			}
			delete(remaining, item)
		}
		return ordered, nil
	})
}

// MovePriority moves the entry at index from to index to (both zero-based).
func (d *Directory) MovePriority(ctx context.Context, partySize, from, to int) error {
	return d.rewrite(ctx, "catalog.MovePriority", partySize, func(current []model.PriorityItem) ([]model.PriorityItem, error) {
		moved, err := ordering.Move(current, from, to)
		if err != nil {
			return nil, apperr.ValidationFrom("catalog.MovePriority", err)
		}
		return moved, nil
	})
}

// rewrite locks the party size's entries, refuses to touch corrupt ranks and
// stores the order produced by reorder as ranks 1..N.
func (d *Directory) rewrite(ctx context.Context, op string, partySize int, reorder func([]model.PriorityItem) ([]model.PriorityItem, error)) error {
	if partySize < 1 {
		return apperr.Validation(op, "party size must be positive")
	}

	err := d.store.Transaction(ctx, func(tx store.Store) error {
		entries, err := tx.ListPriorityEntries(ctx, partySize, true)
		if err != nil {
			return err
		}
		if err := ValidateRanks(entries); err != nil {
			return err
		}

		current := make([]model.PriorityItem, len(entries))
		byItem := make(map[model.PriorityItem]model.PriorityEntry, len(entries))
		for i, e := range entries {
			current[i] = e.Item()
			byItem[e.Item()] = e
		}

		next, err := reorder(current)
		if err != nil {
			return err
		}

		var changed []model.PriorityEntry
		for i, item := range next {
			e := byItem[item]
			if e.Rank != i+1 {
				e.Rank = i + 1
				changed = append(changed, e)
			}
		}
		return tx.UpdatePriorityRanks(ctx, changed)
	})
	if err != nil {
		return err
	}

	d.invalidate(partySize)
	d.log.Info("priorities reordered", zap.String("op", op), zap.Int("party_size", partySize))
	return nil
}

// GenerateMissingPriorities appends an entry for every active table and usable
// join group lacking one for partySize, tables by priority rank then label,
// then groups by name. It returns the number of entries added.
func (d *Directory) GenerateMissingPriorities(ctx context.Context, partySize int) (int, error) {
	const op = "catalog.GenerateMissingPriorities"
	if partySize < 1 {
		return 0, apperr.Validation(op, "party size must be positive")
	}

	var added int
	err := d.store.Transaction(ctx, func(tx store.Store) error {
		entries, err := tx.ListPriorityEntries(ctx, partySize, true)
		if err != nil {
			return err
		}
		if err := ValidateRanks(entries); err != nil {
			return err
		}

		covered := make(map[model.PriorityItem]bool, len(entries))
		for _, e := range entries {
			covered[e.Item()] = true
		}

		tables, err := tx.ListActiveTables(ctx)
		if err != nil {
			return err
		}
		groups, err := tx.ListJoinGroups(ctx)
		if err != nil {
			return err
		}

		var catalogOrder []model.PriorityItem
		for _, t := range tables {
			catalogOrder = append(catalogOrder, model.PriorityItem{Type: model.ItemTypeTable, ID: t.ID})
		}
		for _, g := range groups {
			catalogOrder = append(catalogOrder, model.PriorityItem{Type: model.ItemTypeJoinGroup, ID: g.ID})
		}

		var missing []model.PriorityEntry
		next := len(entries) + 1
		for _, item := range catalogOrder {
			if covered[item] {
				continue
			}
			missing = append(missing, model.PriorityEntry{
				PartySize: partySize,
				ItemType:  item.Type,
				ItemID:    item.ID,
				Rank:      next,
			})
			next++
		}
		if len(missing) == 0 {
			return nil
		}
		if err := tx.AppendPriorityEntries(ctx, missing); err != nil {
			return err
		}

		// A concurrent generator may have slipped entries in; never commit broken ranks.
		after, err := tx.ListPriorityEntries(ctx, partySize, false)
		if err != nil {
			return err
		}
		if err := ValidateRanks(after); err != nil {
			return apperr.Conflict(op, "party size %d changed during generation", partySize)
		}
		added = len(after) - len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		d.invalidate(partySize)
		d.log.Info("generated missing priorities", zap.Int("party_size", partySize), zap.Int("added", added))
	}
	return added, nil
}

// RepairPriorities renumbers the stored entries 1..N by (rank, id), clearing
// a DataIntegrity block on the party size.
func (d *Directory) RepairPriorities(ctx context.Context, partySize int) error {
	if partySize < 1 {
		return apperr.Validation("catalog.RepairPriorities", "party size must be positive")
	}

	err := d.store.Transaction(ctx, func(tx store.Store) error {
		entries, err := tx.ListPriorityEntries(ctx, partySize, true)
		if err != nil {
			return err
		}

		var changed []model.PriorityEntry
		for i, e := range entries {
			if e.Rank != i+1 {
				e.Rank = i + 1
				changed = append(changed, e)
			}
		}
		if len(changed) > 0 {
			d.log.Warn("repairing priority ranks", zap.Int("party_size", partySize), zap.Int("renumbered", len(changed)))
		}
		return tx.UpdatePriorityRanks(ctx, changed)
	})
	if err != nil {
		return err
	}

	d.invalidate(partySize)
	return nil
}

// remember caches items unless a rewrite was invalidated since gen was read.
func (d *Directory) remember(partySize int, gen uint64, items []model.PriorityItem) {
	if d.cache == nil {
		return
	}
	d.gens.mu.Lock()
	defer d.gens.mu.Unlock()
	if d.gens.seq[partySize] != gen {
		return
	}
	d.cache.SetDefault(cacheKey(partySize), append([]model.PriorityItem(nil), items...))
}

func (d *Directory) invalidate(partySize int) {
	d.gens.mu.Lock()
	defer d.gens.mu.Unlock()
	d.gens.seq[partySize]++
	if d.cache != nil {
		d.cache.Delete(cacheKey(partySize))
	}
}
