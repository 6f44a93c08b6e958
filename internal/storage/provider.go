// Package storage stores uploaded media files on disk.
package storage

import "time"

// Object describes one stored file.
type Object struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provider is the interface for media file operations. Names are relative to
// the storage root.
type Provider interface {
	// List returns every stored object under dir.
	List(dir string) ([]Object, error)
	// Read returns the raw bytes of the object at name.
	Read(name string) ([]byte, error)
	// Stat returns metadata for the object at name.
	Stat(name string) (*Object, error)
	// Write atomically writes content to name.
	Write(name string, content []byte) error
	// Delete removes the object at name.
	Delete(name string) error
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
