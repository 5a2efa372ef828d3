package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

var _ inventory.Gate = (*Gate)(nil)

const (
	rebuildKey     = "ledger:rebuild"
	defaultLockTTL = 30 * time.Minute
)

// releaseScript borra la clave solo si el dueño sigue siendo quien la tomó.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Gate extiende el gate de proceso con un candado en Redis (SET NX + TTL) para que una
// reconstrucción en un proceso bloquee las escrituras de los demás.
type Gate struct {
	client redis.UniversalClient
	local  *inventory.MemoryGate
	key    string
	ttl    time.Duration
}

// NewGate construye el gate. ttl <= 0 usa 30 minutos.
func NewGate(client redis.UniversalClient, local *inventory.MemoryGate, ttl time.Duration) (*Gate, error) {
	if client == nil {
		return nil, errors.New("redis client required for gate")
	}
	if local == nil {
		local = inventory.NewMemoryGate()
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Gate{client: client, local: local, key: rebuildKey, ttl: ttl}, nil
}

// Enter falla si alguna instancia tiene el candado de reconstrucción.
func (g *Gate) Enter(ctx context.Context) (func(), error) {
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		return nil, fmt.Errorf("consultar candado: %w", err)
	}
	if n > 0 {
		return nil, domain.ErrRebuildInProgress
	}
	return g.local.Enter(ctx)
}

// Exclusive toma el candado global y luego el modo exclusivo local.
func (g *Gate) Exclusive(ctx context.Context) (func(), error) {
	owner := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, owner, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, domain.ErrRebuildInProgress
	}
	release, err := g.local.Exclusive(ctx)
	if err != nil {
		_ = g.unlock(context.WithoutCancel(ctx), owner)
		return nil, err
	}
	return func() {
		release()
		_ = g.unlock(context.WithoutCancel(ctx), owner)
	}, nil
}

func (g *Gate) unlock(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("liberar candado: %w", err)
	}
	return nil
}

// Rebuilding indica si alguna instancia está reconstruyendo.
func (g *Gate) Rebuilding(ctx context.Context) (bool, error) {
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
