package inventory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
)

// KeyedLocker mutex por clave (par producto/sucursal) dentro del proceso.
// Las entradas se liberan cuando nadie las usa.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker construye el locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// LockMany bloquea las claves en orden ascendente (sin repetidos) y devuelve el unlock.
func (k *KeyedLocker) LockMany(keys ...string) func() {
	ordered := sortedUnique(keys)
	entries := make([]*keyedEntry, 0, len(ordered))
	for _, key := range ordered {
		k.mu.Lock()
		e, ok := k.locks[key]
		if !ok {
			e = &keyedEntry{}
			k.locks[key] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		entries = append(entries, e)
	}
	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
			k.mu.Lock()
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, ordered[i])
			}
			k.mu.Unlock()
		}
	}
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// MemoryGate Gate de un solo proceso.
type MemoryGate struct {
	mu         sync.RWMutex
	rebuilding atomic.Bool
}

// NewMemoryGate construye el gate en memoria.
func NewMemoryGate() *MemoryGate { return &MemoryGate{} }

// Enter falla de inmediato si hay una reconstrucción activa o pendiente.
func (g *MemoryGate) Enter(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.rebuilding.Load() || !g.mu.TryRLock() {
		return nil, domain.ErrRebuildInProgress
	}
	return g.mu.RUnlock, nil
}

// Exclusive toma el modo exclusivo; una segunda reconstrucción concurrente falla.
func (g *MemoryGate) Exclusive(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.rebuilding.CompareAndSwap(false, true) {
		return nil, domain.ErrRebuildInProgress
	}
	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		g.rebuilding.Store(false)
	}, nil
}

// Rebuilding indica si hay una reconstrucción activa.
func (g *MemoryGate) Rebuilding() bool { return g.rebuilding.Load() }
