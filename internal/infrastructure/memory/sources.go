package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
)

var _ repository.SourceReader = (*Sources)(nil)

// Sources transacciones de origen confirmadas, en el orden en que se agregan.
type Sources struct {
	mu     sync.Mutex
	events map[entity.SourceType][]source.Event
}

// NewSources crea el lector vacío.
func NewSources() *Sources {
	return &Sources{events: make(map[entity.SourceType][]source.Event)}
}

// Add agrega eventos; el tipo sale de la referencia de cada evento.
func (s *Sources) Add(events ...source.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		t := ev.Reference().Type
		s.events[t] = append(s.events[t], ev)
	}
}

func (s *Sources) Load(_ context.Context, sourceType entity.SourceType) ([]source.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Event(nil), s.events[sourceType]...), nil
}
