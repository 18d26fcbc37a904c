// Package vfs defines the narrow file-system capability the incremental
// core consumes. Path virtualization itself — relative/absolute paths,
// standard streams, temp files — is explicitly out of scope (spec §1); this
// package only specifies the opaque handle type and the queries the core
// needs: equality, hashing (via comparable struct), basename and
// modification time.
package vfs

import (
	"os"
	"path/filepath"
)

// Timestamp is a (seconds, nanos) pair. It is never converted to/from a
// floating point value, so that BuildRecord round-trips bit-exactly with
// legacy readers/writers (§4.5, §6).
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

func (t Timestamp) Equal(o Timestamp) bool {
	return t.Seconds == o.Seconds && t.Nanos == o.Nanos
}

func (t Timestamp) Before(o Timestamp) bool {
	if t.Seconds != o.Seconds {
		return t.Seconds < o.Seconds
	}
	return t.Nanos < o.Nanos
}

func FromOS(t interface {
	Unix() int64
	Nanosecond() int
}) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// File is an opaque, comparable handle to one input file. Two handles with
// the same Path compare equal and hash identically, which is all the core
// requires: it never interprets Path itself.
type File struct {
	Path string
}

func (f File) Base() string { return filepath.Base(f.Path) }

func (f File) String() string { return f.Path }

// FileSystem is the capability every component that touches disk receives
// by injection (spec §9 design notes: no global filesystem).
type FileSystem interface {
	Exists(f File) bool
	ModTime(f File) (Timestamp, error)
	Read(f File) ([]byte, error)
	Write(f File, data []byte) error
}

// OS is the production FileSystem backed by the local filesystem.
type OS struct{}

func (OS) Exists(f File) bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

func (OS) ModTime(f File) (Timestamp, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return Timestamp{}, err
	}
	return FromOS(fi.ModTime()), nil
}

func (OS) Read(f File) ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (OS) Write(f File, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o644)
}
