package syncconfig

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
)

const dataPath = ".obsidian/plugins/granola-sync/data.json"

type memAdapter struct {
	files map[string]string
	reads int
}

func (m *memAdapter) Exists(p string) (bool, error) {
	_, ok := m.files[p]
	return ok, nil
}

func (m *memAdapter) Read(p string) ([]byte, error) {
	m.reads++
	s, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(s), nil
}

type failingAdapter struct{}

func (failingAdapter) Exists(string) (bool, error) { return false, errors.New("disk gone") }
func (failingAdapter) Read(string) ([]byte, error) { return nil, errors.New("disk gone") }

func quiet() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestReader(data string) (*Reader, *memAdapter, *clock.Fake) {
	a := &memAdapter{files: map[string]string{}}
	if data != "" {
		a.files[dataPath] = data
	}
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewReader(a, WithClock(clk), WithLogger(quiet())), a, clk
}

func TestSettings_Missing(t *testing.T) {
	r, _, _ := newTestReader("")
	if s := r.Settings(); s != nil {
		t.Errorf("settings = %+v, want nil", s)
	}
	if r.TranscriptSyncEnabled() {
		t.Error("transcript sync should be off without config")
	}
}

func TestSettings_Unparsable(t *testing.T) {
	r, _, _ := newTestReader("{not json")
	if s := r.Settings(); s != nil {
		t.Errorf("settings = %+v, want nil", s)
	}
}

func TestSettings_AdapterError(t *testing.T) {
	r := NewReader(failingAdapter{}, WithLogger(quiet()))
	if s := r.Settings(); s != nil {
		t.Errorf("settings = %+v, want nil", s)
	}
}

func TestSettings_DefaultsOverlay(t *testing.T) {
	r, _, _ := newTestReader(`{"isSyncEnabled": true, "baseFolderType": "custom", "customBaseFolder": "Granola"}`)
	s := r.Settings()
	if s == nil {
		t.Fatal("expected settings")
	}
	if !s.IsSyncEnabled || s.CustomBaseFolder != "Granola" {
		t.Errorf("explicit fields lost: %+v", s)
	}
	if s.TranscriptHandling != TranscriptSameLocation {
		t.Errorf("transcriptHandling = %q", s.TranscriptHandling)
	}
	if s.TranscriptFilenamePattern != "{title} - {date} - transcript" || s.FilenamePattern != "{title} - {date}" {
		t.Errorf("filename patterns = %q, %q", s.FilenamePattern, s.TranscriptFilenamePattern)
	}
}

func TestSettings_ExplicitOverridesDefault(t *testing.T) {
	r, _, _ := newTestReader(`{"syncTranscripts": true, "transcriptHandling": "custom-location", "filenamePattern": "{date}"}`)
	s := r.Settings()
	if !s.SyncTranscripts || s.TranscriptHandling != TranscriptCustomLocation || s.FilenamePattern != "{date}" {
		t.Errorf("settings = %+v", s)
	}
}

func TestSettings_OneReadPerWindow(t *testing.T) {
	r, a, clk := newTestReader(`{"syncTranscripts": true}`)
	for i := 0; i < 50; i++ {
		if r.Settings() == nil {
			t.Fatal("expected settings")
		}
		r.IsTranscript("Meetings/a.md")
		clk.Advance(50 * time.Millisecond)
	}
	// 50 * 50ms = 2.5s, still inside the first window.
	if a.reads != 1 {
		t.Errorf("reads = %d, want 1", a.reads)
	}

	clk.Advance(3 * time.Second)
	r.Settings()
	if a.reads != 2 {
		t.Errorf("reads after expiry = %d, want 2", a.reads)
	}
}

func TestSettings_CacheSurvivesFileChangeUntilCleared(t *testing.T) {
	r, a, _ := newTestReader(`{"syncTranscripts": false}`)
	if r.TranscriptSyncEnabled() {
		t.Fatal("expected disabled")
	}
	a.files[dataPath] = `{"syncTranscripts": true}`
	if r.TranscriptSyncEnabled() {
		t.Error("cached value should still be served")
	}
	r.ClearCache()
	if !r.TranscriptSyncEnabled() {
		t.Error("expected re-read after ClearCache")
	}
}

func TestSettings_CustomLocation(t *testing.T) {
	a := &memAdapter{files: map[string]string{"cfg/plugins/other/data.json": `{}`}}
	r := NewReader(a, WithConfigDir("cfg"), WithPluginID("other"), WithLogger(quiet()))
	if r.Path() != "cfg/plugins/other/data.json" {
		t.Errorf("path = %q", r.Path())
	}
	if r.Settings() == nil {
		t.Error("expected settings at custom location")
	}
}

func TestIsTranscript_FilenameHeuristic(t *testing.T) {
	r, _, _ := newTestReader("")
	cases := map[string]bool{
		"Meeting - 2025-01-29 - transcript.md": true,
		"Granola/Kickoff - TRANSCRIPT.md":      true,
		"Granola/Kickoff.md":                   false,
		"Transcripts/Kickoff.md":               false,
	}
	for p, want := range cases {
		if got := r.IsTranscript(p); got != want {
			t.Errorf("IsTranscript(%q) = %v, want %v", p, got, want)
		}
		if r.IsNote(p) == want {
			t.Errorf("IsNote(%q) should be the complement", p)
		}
	}
}

func TestIsTranscript_CustomFolder(t *testing.T) {
	r, _, _ := newTestReader(`{"syncTranscripts": true, "transcriptHandling": "custom-location", "customTranscriptBaseFolder": "/Granola/Transcripts/"}`)
	cases := map[string]bool{
		"Granola/Transcripts/Kickoff.md":     true,
		"granola/transcripts/sub/Kickoff.md": true,
		"Granola/TranscriptsOld/Kickoff.md":  false,
		"Granola/Kickoff.md":                 false,
		"Granola/Kickoff - transcript.md":    true,
	}
	for p, want := range cases {
		if got := r.IsTranscript(p); got != want {
			t.Errorf("IsTranscript(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestIsTranscript_SameLocationUsesFilename(t *testing.T) {
	r, _, _ := newTestReader(`{"syncTranscripts": true, "customTranscriptBaseFolder": "T"}`)
	if r.IsTranscript("T/Kickoff.md") {
		t.Error("folder must only count for custom-location handling")
	}
}

func TestClassify(t *testing.T) {
	r, _, _ := newTestReader("")
	if r.Classify("a - transcript.md") != models.ClassTranscript {
		t.Error("expected transcript")
	}
	if r.Classify("a.md") != models.ClassNote {
		t.Error("expected note")
	}
}

func TestFolders(t *testing.T) {
	r, _, _ := newTestReader(`{"baseFolderType": "custom", "customBaseFolder": "Granola", "syncTranscripts": true}`)
	if got := r.NotesFolder(); got != "Granola" {
		t.Errorf("notes folder = %q", got)
	}
	if got, ok := r.TranscriptFolder(); !ok || got != "Granola" {
		t.Errorf("transcript folder = %q (%v)", got, ok)
	}

	r2, _, _ := newTestReader(`{"syncTranscripts": true, "transcriptHandling": "custom-location"}`)
	if _, ok := r2.TranscriptFolder(); ok {
		t.Error("custom location without folder should report false")
	}
	if r2.NotesFolder() != "/" {
		t.Errorf("notes folder = %q, want /", r2.NotesFolder())
	}

	r3, _, _ := newTestReader("")
	if _, ok := r3.TranscriptFolder(); ok {
		t.Error("no config should report no transcript folder")
	}
}

func TestPlugin(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  Plugin
	}{
		{
			name: "absent",
			want: Plugin{ID: DefaultPluginID},
		},
		{
			name: "installed only",
			files: map[string]string{
				".obsidian/plugins/granola-sync/manifest.json": `{"id":"granola-sync","version":"1.4.0"}`,
				".obsidian/community-plugins.json":             `["dataview"]`,
			},
			want: Plugin{ID: DefaultPluginID, Installed: true, Version: "1.4.0"},
		},
		{
			name: "available",
			files: map[string]string{
				".obsidian/plugins/granola-sync/manifest.json": `{"version":"1.4.0"}`,
				".obsidian/community-plugins.json":             `["dataview","granola-sync"]`,
			},
			want: Plugin{ID: DefaultPluginID, Installed: true, Enabled: true, Version: "1.4.0"},
		},
		{
			name: "broken files",
			files: map[string]string{
				".obsidian/plugins/granola-sync/manifest.json": `{`,
				".obsidian/community-plugins.json":             `nope`,
			},
			want: Plugin{ID: DefaultPluginID, Installed: true},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := &memAdapter{files: c.files}
			if a.files == nil {
				a.files = map[string]string{}
			}
			got := NewReader(a, WithLogger(quiet())).Plugin()
			if got != c.want {
				t.Errorf("Plugin() = %+v, want %+v", got, c.want)
			}
			if got.Available() != (c.want.Installed && c.want.Enabled) {
				t.Errorf("Available() = %v", got.Available())
			}
		})
	}

	if p := NewReader(failingAdapter{}, WithLogger(quiet())).Plugin(); p.Installed || p.Enabled {
		t.Errorf("failing adapter: %+v", p)
	}
}
