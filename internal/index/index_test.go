package index

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/vault"
)

// fakeSource is an in-memory host: paths with their live sync keys and a
// minimal event bus.
type fakeSource struct {
	mu       sync.Mutex
	keys     map[string]string // path -> key; "" means no key
	handlers map[vault.Ref]vault.Handler
	next     int
	scans    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{keys: map[string]string{}, handlers: map[vault.Ref]vault.Handler{}}
}

func (s *fakeSource) Files() []models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	out := make([]models.File, 0, len(s.keys))
	for p := range s.keys {
		out = append(out, models.NewFile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *fakeSource) SyncKey(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keys[p]
	return k, k != ""
}

func (s *fakeSource) Subscribe(kind vault.EventKind, h vault.Handler) vault.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	ref := vault.Ref{Kind: kind, ID: s.next}
	s.handlers[ref] = h
	return ref
}

func (s *fakeSource) Unsubscribe(ref vault.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, ref)
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *fakeSource) set(p, key string) {
	s.mu.Lock()
	s.keys[p] = key
	s.mu.Unlock()
}

func (s *fakeSource) remove(p string) {
	s.mu.Lock()
	delete(s.keys, p)
	s.mu.Unlock()
}

func (s *fakeSource) emit(ev vault.Event) {
	s.mu.Lock()
	var hs []vault.Handler
	for ref, h := range s.handlers {
		if ref.Kind == ev.Kind {
			hs = append(hs, h)
		}
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func newTestIndex(src *fakeSource, opts ...Option) (*Index, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clk), WithLogger(logger)}, opts...)
	return New(src, opts...), clk
}

func paths(files []models.File) string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return strings.Join(out, ",")
}

func TestInitialize_SeedsFromSource(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	src.set("b.md", "k1")
	src.set("c.md", "k2")
	src.set("plain.md", "")
	src.set("img.png", "k3")

	ix, _ := newTestIndex(src)
	if ix.Stats().State != "uninitialized" {
		t.Errorf("state before init = %q", ix.Stats().State)
	}
	ix.Initialize()

	st := ix.Stats()
	if !st.Ready || st.Count != 3 || st.Keys != 2 {
		t.Errorf("stats = %+v", st)
	}
	if got := paths(ix.FindAllByKey("k1")); got != "a.md,b.md" {
		t.Errorf("k1 = %s", got)
	}
	if ix.HasKey("k3") {
		t.Error("non-markdown file indexed")
	}
	if key, ok := ix.KeyForPath("c.md"); !ok || key != "k2" {
		t.Errorf("KeyForPath = %q (%v)", key, ok)
	}
	if src.subscribers() != 4 {
		t.Errorf("subscribers = %d, want 4", src.subscribers())
	}
}

func TestInitialize_Reentrant(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	ix, _ := newTestIndex(src)
	ix.Initialize()
	src.remove("a.md")
	src.set("b.md", "k2")
	ix.Initialize()

	if src.subscribers() != 4 {
		t.Errorf("subscribers = %d, want 4 after re-init", src.subscribers())
	}
	if ix.HasKey("k1") || !ix.HasKey("k2") {
		t.Errorf("stale state survived re-init: %s", paths(ix.AllIndexed()))
	}
}

func TestCreate_IndexedAfterDelay(t *testing.T) {
	src := newFakeSource()
	ix, clk := newTestIndex(src)
	ix.Initialize()

	src.set("new.md", "k1")
	src.emit(vault.Event{Kind: vault.EventCreate, File: models.NewFile("new.md")})
	if ix.HasKey("k1") {
		t.Fatal("create must not index synchronously")
	}
	clk.Advance(DefaultDelay - time.Millisecond)
	if ix.HasKey("k1") {
		t.Fatal("indexed before delay elapsed")
	}
	clk.Advance(time.Millisecond)
	if !ix.HasKey("k1") {
		t.Fatal("not indexed after delay")
	}
}

func TestCreate_NonMarkdownIgnored(t *testing.T) {
	src := newFakeSource()
	ix, clk := newTestIndex(src)
	ix.Initialize()
	src.emit(vault.Event{Kind: vault.EventCreate, File: models.NewFile("a.pdf")})
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestDelete_Immediate(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	src.set("b.md", "k1")
	ix, _ := newTestIndex(src)
	ix.Initialize()

	src.remove("a.md")
	src.emit(vault.Event{Kind: vault.EventDelete, File: models.NewFile("a.md")})
	if got := paths(ix.FindAllByKey("k1")); got != "b.md" {
		t.Errorf("k1 = %s, want b.md", got)
	}
	src.emit(vault.Event{Kind: vault.EventDelete, File: models.NewFile("b.md")})
	if ix.HasKey("k1") {
		t.Error("empty bucket should be dropped")
	}
	if _, ok := ix.KeyForPath("b.md"); ok {
		t.Error("reverse entry not dropped")
	}
}

func TestRename_OldRemovedNewDelayed(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	ix, clk := newTestIndex(src)
	ix.Initialize()

	src.remove("a.md")
	src.set("Archive/a.md", "k1")
	src.emit(vault.Event{Kind: vault.EventRename, File: models.NewFile("Archive/a.md"), OldPath: "a.md"})

	if ix.HasKey("k1") {
		t.Error("old path should be removed immediately")
	}
	clk.Advance(DefaultDelay)
	if f, ok := ix.FindByKey("k1"); !ok || f.Path != "Archive/a.md" {
		t.Errorf("FindByKey = %+v (%v)", f, ok)
	}
}

func TestChanged_KeyAppearsChangesDisappears(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "")
	ix, _ := newTestIndex(src)
	ix.Initialize()
	changed := vault.Event{Kind: vault.EventChanged, File: models.NewFile("a.md")}

	src.set("a.md", "k1")
	src.emit(changed)
	if !ix.HasKey("k1") {
		t.Fatal("key not picked up on changed")
	}

	src.set("a.md", "k2")
	src.emit(changed)
	if ix.HasKey("k1") || !ix.HasKey("k2") {
		t.Errorf("key change not applied: %s", paths(ix.AllIndexed()))
	}

	src.set("a.md", "")
	src.emit(changed)
	if ix.Stats().Count != 0 {
		t.Errorf("count = %d, want 0 after key removal", ix.Stats().Count)
	}
}

func TestIndexFile_Idempotent(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	ix, _ := newTestIndex(src)
	ix.Initialize()
	for i := 0; i < 3; i++ {
		ix.IndexFile(models.NewFile("a.md"))
	}
	if n := len(ix.FindAllByKey("k1")); n != 1 {
		t.Errorf("bucket size = %d, want 1", n)
	}
	if ix.Stats().Count != 1 {
		t.Errorf("count = %d", ix.Stats().Count)
	}
}

func TestPathInAtMostOneBucket(t *testing.T) {
	src := newFakeSource()
	ix, _ := newTestIndex(src)
	ix.Initialize()
	f := models.NewFile("a.md")
	for _, k := range []string{"k1", "k2", "k3", "k2"} {
		src.set("a.md", k)
		ix.IndexFile(f)
	}
	total := 0
	for _, k := range []string{"k1", "k2", "k3"} {
		total += len(ix.FindAllByKey(k))
	}
	if total != 1 {
		t.Errorf("path appears %d times, want 1", total)
	}
}

func TestCleanup(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	ix, clk := newTestIndex(src)
	ix.Initialize()

	src.set("late.md", "k2")
	src.emit(vault.Event{Kind: vault.EventCreate, File: models.NewFile("late.md")})

	ix.Cleanup()
	ix.Cleanup()
	st := ix.Stats()
	if st.Ready || st.State != "uninitialized" || st.Count != 0 {
		t.Errorf("stats after cleanup = %+v", st)
	}
	if src.subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", src.subscribers())
	}

	// The timer scheduled before cleanup still fires but changes nothing.
	clk.Advance(DefaultDelay)
	if ix.HasKey("k2") {
		t.Error("in-flight timer repopulated a cleaned index")
	}
}

func TestDuplicateGroups_ExcludesTranscripts(t *testing.T) {
	src := newFakeSource()
	src.set("Meeting.md", "xyz")
	src.set("Meeting - transcript.md", "xyz")
	src.set("Meeting (old) - transcript.md", "xyz")
	src.set("A.md", "dup")
	src.set("B.md", "dup")
	src.set("solo.md", "one")

	ix, _ := newTestIndex(src)
	isTranscript := func(p string) bool { return strings.Contains(strings.ToLower(p), "transcript") }

	groups := ix.DuplicateGroups(isTranscript)
	if len(groups) != 1 || groups[0].SyncKey != "dup" || paths(groups[0].Files) != "A.md,B.md" {
		t.Errorf("groups = %+v", groups)
	}

	all := ix.DuplicateGroups(nil)
	if len(all) != 2 || all[0].SyncKey != "dup" || all[1].SyncKey != "xyz" {
		t.Errorf("unfiltered groups = %+v", all)
	}
}

func TestDuplicateGroups_BypassesCache(t *testing.T) {
	src := newFakeSource()
	ix, _ := newTestIndex(src)
	ix.Initialize()
	// Written without any event: the incremental index never sees them.
	src.set("a.md", "k")
	src.set("b.md", "k")
	if ix.HasKey("k") {
		t.Fatal("precondition: cache should be stale")
	}
	if groups := ix.DuplicateGroups(nil); len(groups) != 1 {
		t.Errorf("groups = %+v, want 1", groups)
	}
}

func TestVerify_RepairsDrift(t *testing.T) {
	src := newFakeSource()
	src.set("a.md", "k1")
	src.set("b.md", "k2")
	ix, _ := newTestIndex(src)
	ix.Initialize()

	src.remove("a.md")
	src.set("c.md", "k3")
	src.set("b.md", "k9")

	res := ix.Verify()
	if res.Added != 2 || res.Removed != 2 || res.Count != 2 {
		t.Errorf("verify = %+v, want added 2 removed 2 count 2", res)
	}
	if ix.HasKey("k1") || !ix.HasKey("k3") || !ix.HasKey("k9") {
		t.Errorf("index after verify = %s", paths(ix.AllIndexed()))
	}
}

func TestEventCallback(t *testing.T) {
	src := newFakeSource()
	var mu sync.Mutex
	var got []string
	ix, _ := newTestIndex(src, WithEventCallback(func(kind, p string) {
		mu.Lock()
		got = append(got, kind+":"+p)
		mu.Unlock()
	}))
	ix.Initialize()

	src.set("a.md", "k1")
	src.emit(vault.Event{Kind: vault.EventChanged, File: models.NewFile("a.md")})
	src.emit(vault.Event{Kind: vault.EventChanged, File: models.NewFile("a.md")})
	src.emit(vault.Event{Kind: vault.EventDelete, File: models.NewFile("a.md")})

	mu.Lock()
	defer mu.Unlock()
	want := "indexed:a.md,unindexed:a.md"
	if strings.Join(got, ",") != want {
		t.Errorf("callbacks = %v, want %s", got, want)
	}
}

func TestQueriesDoNotScan(t *testing.T) {
	src := newFakeSource()
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		src.set(p, "k")
	}
	ix, _ := newTestIndex(src)
	ix.Initialize()
	scans := src.scans

	ix.FindByKey("k")
	ix.FindAllByKey("k")
	ix.HasKey("k")
	ix.KeyForPath("a.md")
	ix.AllIndexed()
	ix.Stats()
	if src.scans != scans {
		t.Errorf("queries triggered %d scans", src.scans-scans)
	}
}
