package wire

import (
	"fmt"

	"github.com/renproject/surge"

	"github.com/marktsuchida/partaked/token"
)

// Mapping names a chunk inside a segment: the key a client exchanges for it,
// and the (segment, offset, size) triple locating its bytes. Segment id is
// always 0 in this implementation (spec.md's single-segment non-goal).
type Mapping struct {
	Key       token.Token
	SegmentID uint32
	Offset    uint64
	Size      uint64
}

// SizeHint implements surge.SizeHinter.
func (m Mapping) SizeHint() int {
	return surge.SizeHint(uint64(m.Key)) + surge.SizeHint(m.SegmentID) +
		surge.SizeHint(m.Offset) + surge.SizeHint(m.Size)
}

// Marshal implements surge.Marshaler.
func (m Mapping) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU64(uint64(m.Key), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling key: %w", err)
	}
	buf, rem, err = surge.MarshalU32(m.SegmentID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling segment id: %w", err)
	}
	buf, rem, err = surge.MarshalU64(m.Offset, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling offset: %w", err)
	}
	buf, rem, err = surge.MarshalU64(m.Size, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling size: %w", err)
	}
	return buf, rem, nil
}

// Unmarshal implements surge.Unmarshaler.
func (m *Mapping) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var key uint64
	buf, rem, err := surge.UnmarshalU64(&key, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling key: %w", err)
	}
	m.Key = token.Token(key)
	buf, rem, err = surge.UnmarshalU32(&m.SegmentID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling segment id: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&m.Offset, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling offset: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&m.Size, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling size: %w", err)
	}
	return buf, rem, nil
}

// SegmentMechanism names which platform mechanism publishes the segment, for
// the mapping spec returned by GetSegment.
type SegmentMechanism uint8

const (
	MechanismPosix SegmentMechanism = iota
	MechanismSystemV
	MechanismWin32
	MechanismMmapFile
)

// SegmentSpec is the tagged union returned by GetSegment describing how a
// client should attach to the daemon's shared segment locally. Only one of
// the variant fields is meaningful, selected by Mechanism; modeled as a flat
// struct (not a Go interface) since it round-trips wholesale over the wire
// and its fields are few, mirroring how Mapping is encoded.
type SegmentSpec struct {
	Mechanism SegmentMechanism

	// MechanismPosix
	PosixName string

	// MechanismSystemV
	SystemVID int32

	// MechanismWin32
	Win32Name       string
	Win32LargePages bool

	// MechanismMmapFile
	MmapFilePath string
}

// SizeHint implements surge.SizeHinter.
func (s SegmentSpec) SizeHint() int {
	return 1 + surge.SizeHint(s.PosixName) + surge.SizeHint(s.SystemVID) +
		surge.SizeHint(s.Win32Name) + surge.SizeHint(s.Win32LargePages) +
		surge.SizeHint(s.MmapFilePath)
}

// Marshal implements surge.Marshaler. All variant fields are encoded
// unconditionally (not just the active one); this is a small, fixed-layout
// struct where the simplicity of unconditional encoding outweighs the few
// extra wasted bytes for the mechanisms that are not in use.
func (s SegmentSpec) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU8(uint8(s.Mechanism), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling mechanism: %w", err)
	}
	buf, rem, err = surge.MarshalString(s.PosixName, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling posix name: %w", err)
	}
	buf, rem, err = surge.MarshalI32(s.SystemVID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling systemv id: %w", err)
	}
	buf, rem, err = surge.MarshalString(s.Win32Name, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling win32 name: %w", err)
	}
	buf, rem, err = surge.MarshalBool(s.Win32LargePages, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling win32 large pages: %w", err)
	}
	buf, rem, err = surge.MarshalString(s.MmapFilePath, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling mmap file path: %w", err)
	}
	return buf, rem, nil
}

// Unmarshal implements surge.Unmarshaler.
func (s *SegmentSpec) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var mechanism uint8
	buf, rem, err := surge.UnmarshalU8(&mechanism, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling mechanism: %w", err)
	}
	s.Mechanism = SegmentMechanism(mechanism)
	buf, rem, err = surge.UnmarshalString(&s.PosixName, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling posix name: %w", err)
	}
	buf, rem, err = surge.UnmarshalI32(&s.SystemVID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling systemv id: %w", err)
	}
	buf, rem, err = surge.UnmarshalString(&s.Win32Name, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling win32 name: %w", err)
	}
	buf, rem, err = surge.UnmarshalBool(&s.Win32LargePages, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling win32 large pages: %w", err)
	}
	buf, rem, err = surge.UnmarshalString(&s.MmapFilePath, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling mmap file path: %w", err)
	}
	return buf, rem, nil
}
