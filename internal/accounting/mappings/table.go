package mappings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Loader supplies the full mapping set.
type Loader interface {
	ListAll(ctx context.Context) ([]AccountMapping, error)
}

// Table is the in-memory lookup used at sync time. It is read-only between loads.
type Table struct {
	loader  Loader
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[mappingKey]AccountMapping
}

// NewTable constructs a table backed by loader. Call Load before use.
func NewTable(loader Loader) *Table {
	return &Table{loader: loader, entries: make(map[mappingKey]AccountMapping)}
}

// NewStaticTable builds a table from a fixed mapping set.
func NewStaticTable(mappings ...AccountMapping) *Table {
	t := &Table{entries: make(map[mappingKey]AccountMapping, len(mappings))}
	t.replace(mappings)
	return t
}

func keyOf(tenantID uuid.UUID, module, subtype string) mappingKey {
	return mappingKey{
		tenant:  tenantID,
		module:  strings.ToUpper(strings.TrimSpace(module)),
		subtype: strings.ToUpper(strings.TrimSpace(subtype)),
	}
}

// Load replaces the table contents from the loader.
func (t *Table) Load(ctx context.Context) error {
	if t.loader == nil {
		return nil
	}
	rows, err := t.loader.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load account mappings: %w", err)
	}
	t.replace(rows)
	return nil
}

// Reload refreshes the table, collapsing concurrent callers into one load.
func (t *Table) Reload(ctx context.Context) error {
	_, err, _ := t.group.Do("reload", func() (any, error) {
		return nil, t.Load(ctx)
	})
	return err
}

func (t *Table) replace(rows []AccountMapping) {
	next := make(map[mappingKey]AccountMapping, len(rows))
	for _, m := range rows {
		next[m.key()] = m
	}
	t.mu.Lock()
	t.entries = next
	t.mu.Unlock()
}

// Resolve returns the mapping for tenant, module and subtype.
func (t *Table) Resolve(tenantID uuid.UUID, module, subtype string) (AccountMapping, error) {
	t.mu.RLock()
	m, ok := t.entries[keyOf(tenantID, module, subtype)]
	t.mu.RUnlock()
	if !ok {
		return AccountMapping{}, fmt.Errorf("%w: tenant %s %s/%s", ErrMappingNotFound, tenantID, strings.ToUpper(module), strings.ToUpper(subtype))
	}
	return m, nil
}

// Len reports the number of loaded mappings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ForTenant lists a tenant's mappings ordered by module and subtype.
func (t *Table) ForTenant(tenantID uuid.UUID) []AccountMapping {
	t.mu.RLock()
	out := make([]AccountMapping, 0, len(t.entries))
	for k, m := range t.entries {
		if k.tenant == tenantID {
			out = append(out, m)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Subtype < out[j].Subtype
	})
	return out
}
