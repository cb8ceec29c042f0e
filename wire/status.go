// Package wire implements partake's request/response message schema and its
// binary codec. Grounded on common/message.hpp for framing boundaries (see
// package framer) and on spec.md §6/§7 for the message shapes; encoded with
// github.com/renproject/surge the way the teacher encodes every marshalable
// type, rather than encoding/gob or hand-rolled byte pushing.
package wire

import (
	"fmt"

	"github.com/renproject/surge"
)

// Status is the outcome of a single request, carried on every response.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidRequest
	StatusOutOfShmem
	StatusNoSuchSegment
	StatusNoSuchObject
	StatusObjectBusy
	StatusObjectReserved
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusOutOfShmem:
		return "OUT_OF_SHMEM"
	case StatusNoSuchSegment:
		return "NO_SUCH_SEGMENT"
	case StatusNoSuchObject:
		return "NO_SUCH_OBJECT"
	case StatusObjectBusy:
		return "OBJECT_BUSY"
	case StatusObjectReserved:
		return "OBJECT_RESERVED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// SizeHint implements surge.SizeHinter.
func (s Status) SizeHint() int { return 1 }

// Marshal implements surge.Marshaler.
func (s Status) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.MarshalU8(uint8(s), buf, rem)
}

// Unmarshal implements surge.Unmarshaler.
func (s *Status) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var v uint8
	buf, rem, err := surge.UnmarshalU8(&v, buf, rem)
	*s = Status(v)
	return buf, rem, err
}

// Policy distinguishes objects whose exclusive-writer phase is mediated by
// the daemon (DEFAULT) from those that are always mutable by any holder
// (PRIMITIVE).
type Policy uint8

const (
	PolicyDefault Policy = iota
	PolicyPrimitive
)

func (p Policy) String() string {
	if p == PolicyPrimitive {
		return "PRIMITIVE"
	}
	return "DEFAULT"
}

// SizeHint implements surge.SizeHinter.
func (p Policy) SizeHint() int { return 1 }

// Marshal implements surge.Marshaler.
func (p Policy) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.MarshalU8(uint8(p), buf, rem)
}

// Unmarshal implements surge.Unmarshaler.
func (p *Policy) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var v uint8
	buf, rem, err := surge.UnmarshalU8(&v, buf, rem)
	*p = Policy(v)
	return buf, rem, err
}
