package bridge

import (
	"sync"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
)

// EventName identifies a bridge event stream.
type EventName string

const (
	EventPurchaseUpdated EventName = "purchase-updated"
	EventPurchaseError   EventName = "purchase-error"
)

// Event is one rebroadcast store callback. Exactly one of Purchase/Err is
// set, discriminated by Name.
type Event struct {
	Name     EventName
	Purchase *entity.Purchase
	Err      *apperrors.PurchaseError
}

// PurchaseUpdatedFunc receives purchase-updated events.
type PurchaseUpdatedFunc func(*entity.Purchase)

// PurchaseErrorFunc receives purchase-error events.
type PurchaseErrorFunc func(*apperrors.PurchaseError)

// ListenerHandle removes a registered listener. Remove is idempotent.
type ListenerHandle struct {
	once   sync.Once
	remove func()
}

// Remove unregisters the listener.
func (h *ListenerHandle) Remove() {
	h.once.Do(h.remove)
}

// listenerSet holds the registered event listeners. Fan-out snapshots the
// handler maps under a read lock so a listener may remove itself (or add
// others) from inside its own callback.
type listenerSet struct {
	mu      sync.RWMutex
	nextID  int
	updated map[int]PurchaseUpdatedFunc
	errored map[int]PurchaseErrorFunc
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		updated: make(map[int]PurchaseUpdatedFunc),
		errored: make(map[int]PurchaseErrorFunc),
	}
}

func (s *listenerSet) addUpdated(fn PurchaseUpdatedFunc) *ListenerHandle {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.updated[id] = fn
	s.mu.Unlock()

	return &ListenerHandle{remove: func() {
		s.mu.Lock()
		delete(s.updated, id)
		s.mu.Unlock()
	}}
}

func (s *listenerSet) addErrored(fn PurchaseErrorFunc) *ListenerHandle {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.errored[id] = fn
	s.mu.Unlock()

	return &ListenerHandle{remove: func() {
		s.mu.Lock()
		delete(s.errored, id)
		s.mu.Unlock()
	}}
}

// fanout delivers ev to every registered listener, sequentially. It runs on
// the bridge's single dispatch goroutine, which is what guarantees delivery
// ordering across listeners.
func (s *listenerSet) fanout(ev Event) {
	switch ev.Name {
	case EventPurchaseUpdated:
		s.mu.RLock()
		handlers := make([]PurchaseUpdatedFunc, 0, len(s.updated))
		for _, fn := range s.updated {
			handlers = append(handlers, fn)
		}
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(ev.Purchase)
		}
	case EventPurchaseError:
		s.mu.RLock()
		handlers := make([]PurchaseErrorFunc, 0, len(s.errored))
		for _, fn := range s.errored {
			handlers = append(handlers, fn)
		}
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(ev.Err)
		}
	}
}
