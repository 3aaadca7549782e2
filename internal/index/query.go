package index

import (
	"log/slog"
	"sort"

	"github.com/starford/granola-companion/internal/models"
)

// Stats summarises the index.
type Stats struct {
	Count int    `json:"count"`
	Keys  int    `json:"keys"`
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

// VerifyResult reports drift found by Verify.
type VerifyResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Count   int `json:"count"`
}

// FindByKey returns the first document holding key.
func (ix *Index) FindByKey(key string) (models.File, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bucket := ix.byKey[key]
	if len(bucket) == 0 {
		return models.File{}, false
	}
	return bucket[0], true
}

// FindAllByKey returns every document holding key, in indexing order.
func (ix *Index) FindAllByKey(key string) []models.File {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bucket := ix.byKey[key]
	out := make([]models.File, len(bucket))
	copy(out, bucket)
	return out
}

// HasKey reports whether any document holds key.
func (ix *Index) HasKey(key string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byKey[key]) > 0
}

// KeyForPath returns the key indexed for path.
func (ix *Index) KeyForPath(p string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	key, ok := ix.byPath[p]
	return key, ok
}

// AllIndexed returns every indexed document sorted by path.
func (ix *Index) AllIndexed() []models.File {
	ix.mu.RLock()
	out := make([]models.File, 0, len(ix.byPath))
	for _, bucket := range ix.byKey {
		out = append(out, bucket...)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Stats returns counts and lifecycle state.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Count: len(ix.byPath),
		Keys:  len(ix.byKey),
		Ready: ix.state == StateReady,
		State: ix.state.String(),
	}
}

// DuplicateGroups scans the source afresh, bypassing the cache, and returns
// every key held by two or more documents once isTranscript matches are
// dropped. A nil isTranscript keeps every document. Groups are sorted by key.
func (ix *Index) DuplicateGroups(isTranscript func(path string) bool) []models.DuplicateGroup {
	byKey, _ := ix.scan()

	var groups []models.DuplicateGroup
	for key, files := range byKey {
		kept := make([]models.File, 0, len(files))
		for _, f := range files {
			if isTranscript != nil && isTranscript(f.Path) {
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) > 1 {
			groups = append(groups, models.DuplicateGroup{SyncKey: key, Files: kept})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].SyncKey < groups[j].SyncKey })
	return groups
}

// Verify rebuilds the index from a full scan and reports how many entries
// the incremental path had missed or kept stale.
func (ix *Index) Verify() VerifyResult {
	byKey, byPath := ix.scan()

	ix.mu.Lock()
	var res VerifyResult
	for p, key := range byPath {
		if old, ok := ix.byPath[p]; !ok || old != key {
			res.Added++
		}
	}
	for p, key := range ix.byPath {
		if fresh, ok := byPath[p]; !ok || fresh != key {
			res.Removed++
		}
	}
	ix.byKey = byKey
	ix.byPath = byPath
	res.Count = len(byPath)
	ix.mu.Unlock()

	if res.Added > 0 || res.Removed > 0 {
		ix.logger.Warn("index: drift repaired",
			slog.Int("added", res.Added),
			slog.Int("removed", res.Removed))
	}
	return res
}
