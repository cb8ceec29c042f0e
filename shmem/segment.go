// Package shmem provides the daemon's pluggable shared-memory backend. The
// daemon itself only creates and destroys a Segment; it never reads or
// writes through one (spec.md §9, "Allocator metadata outside the
// segment"). Grounded on daemon/segment.hpp and daemon/shmem_mmap.hpp.
package shmem

import (
	"errors"

	"github.com/marktsuchida/partaked/wire"
)

// ErrMechanismUnavailable is returned by Create for a Mechanism with no
// working local backend. spec.md treats POSIX/SysV/Win32 shared memory as
// platform-specific collaborators named only by interface; this repository
// backs only MechanismMmapFile with a real implementation, matching that
// framing while keeping every wire.SegmentMechanism value real and
// round-trippable.
var ErrMechanismUnavailable = errors.New("shmem: mechanism has no backend on this platform")

// Segment is a contiguous shared-memory region created by the daemon and
// attachable by clients via the wire.SegmentSpec returned by Spec.
type Segment interface {
	// Size returns the segment's size in bytes.
	Size() uint64
	// Spec returns the wire representation clients use to attach locally.
	Spec() wire.SegmentSpec
	// Close releases the daemon's resources for the segment (unmapping and,
	// where applicable, unlinking the backing name/file). It does not
	// invalidate mappings already made by other processes.
	Close() error
}

// Config selects a backend mechanism and its parameters, mirroring the
// daemon's CLI mechanism flags (spec.md §6).
type Config struct {
	Mechanism wire.SegmentMechanism
	Size      uint64
	Name      string // MechanismPosix / MechanismWin32
	Path      string // MechanismMmapFile
	Force     bool   // unlink/overwrite any existing name/file first
}

// Create builds a Segment per cfg.Mechanism. Only MechanismMmapFile is
// backed on this platform; every other mechanism returns
// ErrMechanismUnavailable.
func Create(cfg Config) (Segment, error) {
	switch cfg.Mechanism {
	case MechanismMmapFile:
		return createMmapFileSegment(cfg)
	default:
		return nil, ErrMechanismUnavailable
	}
}

// Exported aliases so callers don't need to import wire for the common case
// of selecting a mechanism.
const (
	MechanismPosix     = wire.MechanismPosix
	MechanismSystemV   = wire.MechanismSystemV
	MechanismWin32     = wire.MechanismWin32
	MechanismMmapFile  = wire.MechanismMmapFile
)
