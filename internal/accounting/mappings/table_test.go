package mappings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu    sync.Mutex
	rows  []AccountMapping
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *stubLoader) ListAll(ctx context.Context) ([]AccountMapping, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]AccountMapping(nil), s.rows...), nil
}

func TestResolveDefaults(t *testing.T) {
	tenant := uuid.New()
	table := NewStaticTable(DefaultMappings(tenant)...)

	m, err := table.Resolve(tenant, "inventory", "in")
	require.NoError(t, err)
	require.Equal(t, AccountInventory, m.DebitAccountCode)
	require.Equal(t, AccountClearing, m.CreditAccountCode)

	m, err = table.Resolve(tenant, ModulePayroll, SubtypeOther)
	require.NoError(t, err)
	require.Equal(t, AccountOtherDeductions, m.CreditAccountCode)
	require.Len(t, table.ForTenant(tenant), 9)
}

func TestResolveIsTenantScoped(t *testing.T) {
	tenant := uuid.New()
	table := NewStaticTable(DefaultMappings(tenant)...)

	_, err := table.Resolve(uuid.New(), ModuleSales, SubtypeOrder)
	require.ErrorIs(t, err, ErrMappingNotFound)

	_, err = table.Resolve(tenant, ModuleSales, "REFUND")
	require.ErrorIs(t, err, ErrMappingNotFound)
}

func TestLoadReplacesEntries(t *testing.T) {
	tenant := uuid.New()
	loader := &stubLoader{rows: DefaultMappings(tenant)}
	table := NewTable(loader)
	require.NoError(t, table.Load(context.Background()))
	require.Equal(t, 9, table.Len())

	loader.mu.Lock()
	loader.rows = []AccountMapping{{TenantID: tenant, Module: ModuleSales, Subtype: SubtypeOrder, DebitAccountCode: "1210", CreditAccountCode: "4100"}}
	loader.mu.Unlock()
	require.NoError(t, table.Reload(context.Background()))
	require.Equal(t, 1, table.Len())

	m, err := table.Resolve(tenant, ModuleSales, SubtypeOrder)
	require.NoError(t, err)
	require.Equal(t, "1210", m.DebitAccountCode)
}

func TestLoadFailureKeepsPreviousEntries(t *testing.T) {
	tenant := uuid.New()
	loader := &stubLoader{rows: DefaultMappings(tenant)}
	table := NewTable(loader)
	require.NoError(t, table.Load(context.Background()))

	loader.mu.Lock()
	loader.err = errors.New("connection refused")
	loader.mu.Unlock()
	require.Error(t, table.Reload(context.Background()))
	require.Equal(t, 9, table.Len())
}

func TestReloadCollapsesConcurrentCalls(t *testing.T) {
	loader := &stubLoader{rows: DefaultMappings(uuid.New()), delay: 50 * time.Millisecond}
	table := NewTable(loader)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.Reload(context.Background())
		}()
	}
	wg.Wait()
	require.Less(t, loader.calls.Load(), int32(8))
}
