// Package storage is the file-system layer under the vault. Paths are
// slash-separated and relative to the vault root; anything resolving outside
// the root is rejected with apperr.ErrInvalidPath.
package storage

import "github.com/starford/granola-companion/internal/models"

// Provider stores vault documents.
type Provider interface {
	// List returns metadata for every .md file under dir, skipping hidden
	// directories.
	List(dir string) ([]models.FileMetadata, error)
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
	// Create writes a new file and fails with apperr.ErrAlreadyExists when
	// path is taken. The check and the write are one atomic step.
	Create(path string, content []byte) error
	// Write replaces path atomically, creating it if needed.
	Write(path string, content []byte) error
	Delete(path string) error
	// Move renames oldPath to newPath without replacing an existing file.
	Move(oldPath, newPath string) error
}
