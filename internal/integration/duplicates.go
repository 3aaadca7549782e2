package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/granola-companion/internal/models"
)

// statsNoticeDuration is how long the statistics notice stays visible.
const statsNoticeDuration = 8 * time.Second

// GroupStat describes one duplicate group.
type GroupStat struct {
	SyncKey string   `json:"sync_key"`
	Count   int      `json:"count"`
	Files   []string `json:"files"`
}

// Stats summarises duplicates across the vault.
type Stats struct {
	DuplicateGroups     int         `json:"duplicate_groups"`
	TotalDuplicateFiles int         `json:"total_duplicate_files"`
	Duplicates          []GroupStat `json:"duplicates"`
}

// CleanupResult reports a bulk deletion. Partial success is normal.
type CleanupResult struct {
	Deleted  int      `json:"deleted"`
	Errors   int      `json:"errors"`
	Kept     []string `json:"kept"`
	Failures []string `json:"failures,omitempty"`
}

// DuplicateGroups returns same-key groups of non-transcript documents, from a
// fresh scan of the vault.
func (s *Service) DuplicateGroups() []models.DuplicateGroup {
	return s.index.DuplicateGroups(s.reader.IsTranscript)
}

// DuplicateStats counts duplicate groups and the surplus files in them.
func (s *Service) DuplicateStats() Stats {
	groups := s.DuplicateGroups()
	st := Stats{DuplicateGroups: len(groups), Duplicates: make([]GroupStat, 0, len(groups))}
	for _, g := range groups {
		st.TotalDuplicateFiles += len(g.Files) - 1
		st.Duplicates = append(st.Duplicates, GroupStat{
			SyncKey: g.SyncKey,
			Count:   len(g.Files),
			Files:   g.Paths(),
		})
	}
	return st
}

// StatsNotice computes duplicate statistics and shows them to the user.
func (s *Service) StatsNotice() Stats {
	st := s.DuplicateStats()
	if s.notifier != nil {
		s.notifier.Notify(StatsMessage(st))
	}
	return st
}

// StatsMessage renders st as a notice listing at most five groups.
func StatsMessage(st Stats) models.Notice {
	if st.DuplicateGroups == 0 {
		return models.Notice{
			Level:    models.NoticeSuccess,
			Title:    "Duplicate statistics",
			Message:  "No duplicate files found!",
			Duration: statsNoticeDuration,
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Groups: %d\nDuplicate files: %d\n\nRecent duplicates:", st.DuplicateGroups, st.TotalDuplicateFiles)
	for i, g := range st.Duplicates {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "\n%s: %d files", g.SyncKey, g.Count)
	}
	return models.Notice{
		Level:    models.NoticeInfo,
		Title:    "Duplicate statistics",
		Message:  b.String(),
		Duration: statsNoticeDuration,
	}
}

// Canonical picks the file kept from a duplicate group: the shortest path,
// ties broken lexicographically.
func Canonical(files []models.File) (models.File, []models.File) {
	sorted := make([]models.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Path, sorted[j].Path
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return sorted[0], sorted[1:]
}

// DeleteDuplicates keeps one canonical document per group and deletes the
// rest through the vault. Failures are collected, not fatal. The caller is
// responsible for confirming with the user first.
func (s *Service) DeleteDuplicates(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	for _, g := range s.DuplicateGroups() {
		keep, extra := Canonical(g.Files)
		res.Kept = append(res.Kept, keep.Path)
		for _, f := range extra {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("integration: delete duplicates: %w", err)
			}
			if err := s.vault.Delete(ctx, f.Path); err != nil {
				res.Errors++
				res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", f.Path, err))
				s.logger.Warn("integration: delete duplicate failed",
					slog.String("path", f.Path),
					slog.String("error", err.Error()))
				continue
			}
			res.Deleted++
		}
	}

	if s.journal != nil && (res.Deleted > 0 || res.Errors > 0) {
		if err := s.journal.RecordCleanup(ctx, res.Deleted, res.Failures); err != nil {
			s.logger.Warn("integration: journal write failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("integration: duplicates cleaned up",
		slog.Int("deleted", res.Deleted),
		slog.Int("errors", res.Errors))

	if s.notifier != nil {
		n := models.Notice{Level: models.NoticeSuccess, Title: "Duplicate cleanup", Duration: statsNoticeDuration}
		n.Message = fmt.Sprintf("Deleted %d duplicate file(s)", res.Deleted)
		if res.Errors > 0 {
			n.Level = models.NoticeWarning
			n.Message += fmt.Sprintf(", %d failed", res.Errors)
		}
		s.notifier.Notify(n)
	}
	return res, nil
}
