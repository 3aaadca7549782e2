// Package sse streams document, index and notice events to connected clients
// as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/granola-companion/internal/models"
)

// Event types emitted by the broker. Document events are "document.<kind>".
const (
	TypeNotice       = "notice"
	TypeIndexUpdated = "index.updated"
	TypeDocument     = "document"
)

const (
	defaultThrottle  = 2 * time.Second
	defaultKeepAlive = 30 * time.Second
	clientBuffer     = 64
)

// Event is one message for subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DocumentData is the payload of document.<kind> events.
type DocumentData struct {
	Path string `json:"path"`
}

// Filter selects event types for a subscriber. An entry matches the type
// itself and every dotted subtype: "document" matches "document.indexed".
// An empty filter matches everything.
type Filter []string

// Match reports whether typ passes the filter.
func (f Filter) Match(typ string) bool {
	if len(f) == 0 {
		return true
	}
	for _, want := range f {
		if typ == want || strings.HasPrefix(typ, want+".") {
			return true
		}
	}
	return false
}

// ParseFilter splits a comma-separated list, as given in ?types=.
func ParseFilter(s string) Filter {
	var f Filter
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f = append(f, part)
		}
	}
	return f
}

type subscription struct {
	ch     chan []byte
	filter Filter
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets how often idle streams receive a comment line so that
// proxies keep the connection open. Zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// Broker fans events out to SSE clients.
//
// One goroutine owns the subscriber set, the event sequence and the
// index.updated throttle; the exported methods reach it over channels and
// become no-ops after Close.
type Broker struct {
	throttle  time.Duration
	keepAlive time.Duration

	join    chan subscription
	leave   chan chan []byte
	events  chan Event
	docs    chan Event
	counter chan chan int

	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// NewBroker starts a broker. A burst of document events yields at most one
// index.updated per throttle interval.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	b := &Broker{
		throttle:  throttle,
		keepAlive: defaultKeepAlive,
		join:      make(chan subscription),
		leave:     make(chan chan []byte),
		events:    make(chan Event, 256),
		docs:      make(chan Event, 256),
		counter:   make(chan chan int),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)

	subs := make(map[chan []byte]Filter)
	var (
		seq       uint64
		lastIndex time.Time
	)

	send := func(ev Event) {
		seq++
		frame, err := encodeFrame(seq, ev)
		if err != nil {
			return
		}
		for ch, f := range subs {
			if !f.Match(ev.Type) {
				continue
			}
			select {
			case ch <- frame:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.quit:
			for ch := range subs {
				close(ch)
			}
			return
		case s := <-b.join:
			subs[s.ch] = s.filter
		case ch := <-b.leave:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		case ev := <-b.events:
			send(ev)
		case ev := <-b.docs:
			send(ev)
			if now := time.Now(); now.Sub(lastIndex) >= b.throttle {
				lastIndex = now
				send(Event{Type: TypeIndexUpdated, Data: struct{}{}})
			}
		case reply := <-b.counter:
			reply <- len(subs)
		}
	}
}

func encodeFrame(id uint64, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(ev.Type)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Close stops the loop and closes every subscriber channel. Safe to call
// more than once.
func (b *Broker) Close() {
	if b.stopped.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// Subscribe registers a client receiving events that pass filter. The
// returned channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe(filter Filter) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.stopped.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- subscription{ch: ch, filter: filter}:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.stopped.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.stopped.Load() {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case b.counter <- reply:
	case <-b.done:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.done:
		return 0
	}
}

// Publish queues ev for all matching clients.
func (b *Broker) Publish(ev Event) {
	b.enqueue(b.events, ev)
}

// PublishDocumentEvent emits document.<kind> for path, followed by a
// throttled index.updated. kind is a host event (create, delete, rename) or
// an index mutation (indexed, unindexed).
func (b *Broker) PublishDocumentEvent(kind, path string) {
	b.enqueue(b.docs, Event{Type: TypeDocument + "." + kind, Data: DocumentData{Path: path}})
}

// Notify publishes a user-visible notice.
func (b *Broker) Notify(n models.Notice) {
	b.Publish(Event{Type: TypeNotice, Data: n})
}

func (b *Broker) enqueue(q chan Event, ev Event) {
	if b.stopped.Load() {
		return
	}
	select {
	case q <- ev:
	case <-b.done:
	}
}

// ServeHTTP streams events to one client (GET /api/events). The optional
// types query parameter narrows the stream, e.g. ?types=notice,document.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(ParseFilter(r.URL.Query().Get("types")))
	defer b.Unsubscribe(ch)

	var ping <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
