// Package store defines optional persistence for loaded BPF object
// snapshots. A snapshot records which object file was loaded, and the
// maps and programs the kernel reported for it, so an operator can
// inspect what a process has loaded without walking bpffs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested object snapshot does not
// exist.
var ErrNotFound = errors.New("not found")

// MapRecord describes one map of a loaded object.
type MapRecord struct {
	Name       string
	Type       string
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// ProgramRecord describes one program of a loaded object.
type ProgramRecord struct {
	Name string
	Type string
}

// ObjectRecord is a snapshot of one loaded BPF object.
type ObjectRecord struct {
	Path     string
	PID      int
	LoadedAt time.Time
	Maps     []MapRecord
	Programs []ProgramRecord
}

// Store persists object snapshots. Save replaces any existing
// snapshot for the same path; Get returns ErrNotFound for unknown
// paths.
type Store interface {
	Save(ctx context.Context, rec ObjectRecord) error
	Get(ctx context.Context, path string) (ObjectRecord, error)
	List(ctx context.Context) ([]ObjectRecord, error)
	Delete(ctx context.Context, path string) error
	Close() error
}
