package vault_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/granola-companion/internal/apperr"
	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/testutil"
	"github.com/starford/granola-companion/internal/vault"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handle(ev vault.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Kind.String()+":"+ev.File.Path)
}

func (r *recorder) has(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == s {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newVault(t *testing.T) (string, *vault.Vault, *clock.Fake) {
	t.Helper()
	dir, store := testutil.TestVault(t)
	clk := clock.NewFake(testutil.Epoch)
	v := vault.New(store, vault.WithClock(clk), vault.WithLogger(testutil.Logger()))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}
	return dir, v, clk
}

func subscribeAll(v *vault.Vault, r *recorder) {
	for _, k := range []vault.EventKind{vault.EventCreate, vault.EventDelete, vault.EventRename, vault.EventChanged} {
		v.Subscribe(k, r.handle)
	}
}

func TestLoad_ComputesMetadata(t *testing.T) {
	dir, store := testutil.TestVault(t)
	testutil.WriteFile(t, dir, "Meetings/a.md", testutil.Note("k1", "# A\n"))
	testutil.WriteFile(t, dir, ".obsidian/hidden.md", "x")

	v := vault.New(store, vault.WithLogger(testutil.Logger()))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}
	files := v.Files()
	if len(files) != 1 || files[0].Path != "Meetings/a.md" {
		t.Fatalf("files = %v", files)
	}
	if key, ok := v.SyncKey("Meetings/a.md"); !ok || key != "k1" {
		t.Errorf("sync key = %q (%v), want k1", key, ok)
	}
}

func TestCreate_MetadataLagsBehindEvent(t *testing.T) {
	_, v, clk := newVault(t)
	r := &recorder{}
	subscribeAll(v, r)

	var keyAtCreate string
	var okAtCreate bool
	v.Subscribe(vault.EventCreate, func(ev vault.Event) {
		keyAtCreate, okAtCreate = v.SyncKey(ev.File.Path)
	})

	f, err := v.Create(context.Background(), "a.md", []byte(testutil.Note("k1", "")))
	if err != nil {
		t.Fatal(err)
	}
	if f.Path != "a.md" || f.Extension != "md" {
		t.Errorf("file = %+v", f)
	}
	if okAtCreate || keyAtCreate != "" {
		t.Error("metadata should not be available when create fires")
	}
	if !r.has("create:a.md") || r.has("changed:a.md") {
		t.Fatalf("events = %v", r.events)
	}

	clk.Advance(vault.DefaultMetadataDelay)
	if !r.has("changed:a.md") {
		t.Fatalf("changed not emitted: %v", r.events)
	}
	if key, ok := v.SyncKey("a.md"); !ok || key != "k1" {
		t.Errorf("sync key = %q (%v)", key, ok)
	}
}

func TestCreate_Existing(t *testing.T) {
	_, v, _ := newVault(t)
	ctx := context.Background()
	if _, err := v.Create(ctx, "a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Create(ctx, "a.md", []byte("y")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreate_InvalidPath(t *testing.T) {
	_, v, _ := newVault(t)
	ctx := context.Background()
	for _, p := range []string{"", ".hidden.md", "noext"} {
		if _, err := v.Create(ctx, p, []byte("x")); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("Create(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestSetCreator_DecoratesAndRestores(t *testing.T) {
	_, v, _ := newVault(t)
	ctx := context.Background()
	original := v.Creator()

	calls := 0
	v.SetCreator(func(ctx context.Context, path string, content []byte) (models.File, error) {
		calls++
		return original(ctx, path, content)
	})
	if _, err := v.Create(ctx, "a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("decorator calls = %d, want 1", calls)
	}

	v.SetCreator(nil)
	if _, err := v.Create(ctx, "b.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("decorator still installed after reset")
	}
}

func TestRename_KeepsMetadata(t *testing.T) {
	dir, v, clk := newVault(t)
	ctx := context.Background()
	if _, err := v.Create(ctx, "a.md", []byte(testutil.Note("k1", ""))); err != nil {
		t.Fatal(err)
	}
	clk.Advance(vault.DefaultMetadataDelay)

	var got vault.Event
	v.Subscribe(vault.EventRename, func(ev vault.Event) { got = ev })

	to, err := v.Rename(ctx, "a.md", "Archive/b.md")
	if err != nil {
		t.Fatal(err)
	}
	if to.Path != "Archive/b.md" || got.OldPath != "a.md" || got.File.Path != "Archive/b.md" {
		t.Errorf("rename event = %+v", got)
	}
	if key, ok := v.SyncKey("Archive/b.md"); !ok || key != "k1" {
		t.Errorf("sync key after rename = %q (%v)", key, ok)
	}
	if _, ok := v.File("a.md"); ok {
		t.Error("old path still known")
	}
	if _, err := os.Stat(filepath.Join(dir, "Archive", "b.md")); err != nil {
		t.Errorf("file not moved on disk: %v", err)
	}
}

func TestDelete(t *testing.T) {
	_, v, _ := newVault(t)
	ctx := context.Background()
	r := &recorder{}
	v.Subscribe(vault.EventDelete, r.handle)

	if _, err := v.Create(ctx, "a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	if !r.has("delete:a.md") {
		t.Errorf("events = %v", r.events)
	}
	if err := v.Delete(ctx, "a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := v.Read("a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("read err = %v, want ErrNotFound", err)
	}
}

func TestModify_EmitsChanged(t *testing.T) {
	_, v, clk := newVault(t)
	ctx := context.Background()
	if _, err := v.Create(ctx, "a.md", []byte(testutil.Note("k1", ""))); err != nil {
		t.Fatal(err)
	}
	clk.Advance(vault.DefaultMetadataDelay)

	if err := v.Modify(ctx, "a.md", []byte(testutil.Note("k2", ""))); err != nil {
		t.Fatal(err)
	}
	if key, _ := v.SyncKey("a.md"); key != "k1" {
		t.Errorf("key before recompute = %q, want k1", key)
	}
	clk.Advance(vault.DefaultMetadataDelay)
	if key, _ := v.SyncKey("a.md"); key != "k2" {
		t.Errorf("key after recompute = %q, want k2", key)
	}
}

func TestUnsubscribe(t *testing.T) {
	_, v, _ := newVault(t)
	r := &recorder{}
	ref := v.Subscribe(vault.EventCreate, r.handle)
	if v.Subscribers(vault.EventCreate) != 1 {
		t.Fatal("expected one subscriber")
	}
	v.Unsubscribe(ref)
	v.Unsubscribe(ref)
	if _, err := v.Create(context.Background(), "a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if r.count() != 0 {
		t.Errorf("unsubscribed handler received %v", r.events)
	}
}

func TestWithSyncKeyField(t *testing.T) {
	dir, store := testutil.TestVault(t)
	testutil.WriteFile(t, dir, "a.md", "---\nexternal_id: 42\n---\n")
	v := vault.New(store, vault.WithSyncKeyField("external_id"), vault.WithLogger(testutil.Logger()))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}
	if key, ok := v.SyncKey("a.md"); !ok || key != "42" {
		t.Errorf("sync key = %q (%v), want 42", key, ok)
	}
}

func TestWatch_ExternalChanges(t *testing.T) {
	dir, store := testutil.TestVault(t)
	v := vault.New(store, vault.WithLogger(testutil.Logger()), vault.WithMetadataDelay(time.Millisecond))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	subscribeAll(v, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Watch(ctx, dir)
	time.Sleep(100 * time.Millisecond)

	testutil.WriteFile(t, dir, "Granola/ext.md", testutil.Note("k9", ""))
	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		key, ok := v.SyncKey("Granola/ext.md")
		return ok && key == "k9"
	}, "external file not picked up")
	if !r.has("create:Granola/ext.md") {
		t.Errorf("create not emitted: %v", r.events)
	}

	if err := os.Remove(filepath.Join(dir, "Granola", "ext.md")); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return r.has("delete:Granola/ext.md")
	}, "external delete not emitted")
}

func TestWatch_OwnWritesNotEchoed(t *testing.T) {
	dir, store := testutil.TestVault(t)
	v := vault.New(store, vault.WithLogger(testutil.Logger()), vault.WithMetadataDelay(time.Millisecond))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	creates := 0
	v.Subscribe(vault.EventCreate, func(vault.Event) {
		mu.Lock()
		creates++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Watch(ctx, dir)
	time.Sleep(100 * time.Millisecond)

	if _, err := v.Create(ctx, "own.md", []byte("# own")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if creates != 1 {
		t.Errorf("create events = %d, want 1", creates)
	}
}

func TestReconcile(t *testing.T) {
	dir, v, _ := newVault(t)
	r := &recorder{}
	subscribeAll(v, r)

	if _, err := v.Create(context.Background(), "gone.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "gone.md")); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "new.md", "y")

	if err := v.Reconcile(); err != nil {
		t.Fatal(err)
	}
	if !r.has("delete:gone.md") || !r.has("create:new.md") {
		t.Errorf("events = %v", r.events)
	}
}
