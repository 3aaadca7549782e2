package vault

import (
	"log/slog"
	"sort"

	"github.com/starford/granola-companion/internal/models"
)

// EventKind identifies a host lifecycle event.
type EventKind int

const (
	// EventCreate fires when a document is created. Its metadata is not yet
	// available at that instant.
	EventCreate EventKind = iota
	// EventDelete fires when a document is removed.
	EventDelete
	// EventRename fires when a document moves; Event.OldPath holds the prior path.
	EventRename
	// EventChanged fires once a document's metadata has been (re)computed.
	EventChanged
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	case EventChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Kind    EventKind
	File    models.File
	OldPath string
}

// Handler receives events. Handlers run on the emitting goroutine and must
// not block.
type Handler func(Event)

// Ref identifies a subscription for Unsubscribe.
type Ref struct {
	Kind EventKind
	ID   int
}

// Subscribe registers h for events of kind.
func (v *Vault) Subscribe(kind EventKind, h Handler) Ref {
	v.busMu.Lock()
	defer v.busMu.Unlock()
	v.nextSub++
	if v.subs[kind] == nil {
		v.subs[kind] = make(map[int]Handler)
	}
	v.subs[kind][v.nextSub] = h
	return Ref{Kind: kind, ID: v.nextSub}
}

// Unsubscribe removes a subscription. Unknown refs are ignored.
func (v *Vault) Unsubscribe(ref Ref) {
	v.busMu.Lock()
	defer v.busMu.Unlock()
	delete(v.subs[ref.Kind], ref.ID)
}

// Subscribers returns the number of handlers registered for kind.
func (v *Vault) Subscribers(kind EventKind) int {
	v.busMu.RLock()
	defer v.busMu.RUnlock()
	return len(v.subs[kind])
}

func (v *Vault) emit(ev Event) {
	v.busMu.RLock()
	ids := make([]int, 0, len(v.subs[ev.Kind]))
	for id := range v.subs[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, v.subs[ev.Kind][id])
	}
	v.busMu.RUnlock()

	v.logger.Debug("vault: event",
		slog.String("kind", ev.Kind.String()),
		slog.String("path", ev.File.Path),
		slog.String("old_path", ev.OldPath))

	for _, h := range handlers {
		h(ev)
	}
}
