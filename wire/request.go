package wire

import (
	"fmt"

	"github.com/renproject/surge"

	"github.com/marktsuchida/partaked/token"
)

// RequestKind tags the variant carried by a Request.
type RequestKind uint8

const (
	RequestPing RequestKind = iota
	RequestHello
	RequestQuit
	RequestGetSegment
	RequestAlloc
	RequestOpen
	RequestClose
	RequestShare
	RequestUnshare
	RequestCreateVoucher
	RequestDiscardVoucher
)

func (k RequestKind) String() string {
	switch k {
	case RequestPing:
		return "Ping"
	case RequestHello:
		return "Hello"
	case RequestQuit:
		return "Quit"
	case RequestGetSegment:
		return "GetSegment"
	case RequestAlloc:
		return "Alloc"
	case RequestOpen:
		return "Open"
	case RequestClose:
		return "Close"
	case RequestShare:
		return "Share"
	case RequestUnshare:
		return "Unshare"
	case RequestCreateVoucher:
		return "CreateVoucher"
	case RequestDiscardVoucher:
		return "DiscardVoucher"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// maxNameLen is the limit spec.md §4.6 places on a Hello request's name
// field: trimmed to 1023 bytes before being recorded.
const maxNameLen = 1023

// Request is one record in a RequestBatch: a tagged union over every
// variant spec.md §4.6 names, sharing a Seqno that responses echo back.
// Modeled as a flat struct rather than an interface because the whole
// union round-trips as a single fixed-shape wire record, the same way
// Mapping and SegmentSpec do; unused fields for a given Kind are simply
// zero.
type Request struct {
	Seqno uint64
	Kind  RequestKind

	// Hello
	HelloName string
	HelloPID  int32

	// GetSegment
	SegmentID uint32

	// Alloc / Open
	AllocSize   uint64
	AllocPolicy Policy

	// Open / Close / Share / Unshare / CreateVoucher / DiscardVoucher
	Key  token.Token
	Wait bool

	// CreateVoucher
	VoucherCount uint32
}

// SizeHint implements surge.SizeHinter.
func (r Request) SizeHint() int {
	return surge.SizeHint(r.Seqno) + 1 +
		surge.SizeHint(r.HelloName) + surge.SizeHint(r.HelloPID) +
		surge.SizeHint(r.SegmentID) +
		surge.SizeHint(r.AllocSize) + r.AllocPolicy.SizeHint() +
		surge.SizeHint(uint64(r.Key)) + surge.SizeHint(r.Wait) +
		surge.SizeHint(r.VoucherCount)
}

// Marshal implements surge.Marshaler.
func (r Request) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU64(r.Seqno, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling seqno: %w", err)
	}
	buf, rem, err = surge.MarshalU8(uint8(r.Kind), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling kind: %w", err)
	}
	buf, rem, err = surge.MarshalString(r.HelloName, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling hello name: %w", err)
	}
	buf, rem, err = surge.MarshalI32(r.HelloPID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling hello pid: %w", err)
	}
	buf, rem, err = surge.MarshalU32(r.SegmentID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling segment id: %w", err)
	}
	buf, rem, err = surge.MarshalU64(r.AllocSize, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling alloc size: %w", err)
	}
	buf, rem, err = r.AllocPolicy.Marshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling alloc policy: %w", err)
	}
	buf, rem, err = surge.MarshalU64(uint64(r.Key), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling key: %w", err)
	}
	buf, rem, err = surge.MarshalBool(r.Wait, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling wait: %w", err)
	}
	buf, rem, err = surge.MarshalU32(r.VoucherCount, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling voucher count: %w", err)
	}
	return buf, rem, nil
}

// Unmarshal implements surge.Unmarshaler. The Hello name is truncated to
// maxNameLen bytes, matching spec.md §4.6.
func (r *Request) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.UnmarshalU64(&r.Seqno, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling seqno: %w", err)
	}
	var kind uint8
	buf, rem, err = surge.UnmarshalU8(&kind, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling kind: %w", err)
	}
	r.Kind = RequestKind(kind)
	buf, rem, err = surge.UnmarshalString(&r.HelloName, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling hello name: %w", err)
	}
	if len(r.HelloName) > maxNameLen {
		r.HelloName = r.HelloName[:maxNameLen]
	}
	buf, rem, err = surge.UnmarshalI32(&r.HelloPID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling hello pid: %w", err)
	}
	buf, rem, err = surge.UnmarshalU32(&r.SegmentID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling segment id: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&r.AllocSize, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling alloc size: %w", err)
	}
	buf, rem, err = r.AllocPolicy.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling alloc policy: %w", err)
	}
	var key uint64
	buf, rem, err = surge.UnmarshalU64(&key, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling key: %w", err)
	}
	r.Key = token.Token(key)
	buf, rem, err = surge.UnmarshalBool(&r.Wait, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling wait: %w", err)
	}
	buf, rem, err = surge.UnmarshalU32(&r.VoucherCount, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling voucher count: %w", err)
	}
	return buf, rem, nil
}

// RequestBatch is the payload of one inbound frame: the request vector
// spec.md §4.6 says the handler iterates.
type RequestBatch struct {
	Requests []Request
}

// SizeHint implements surge.SizeHinter.
func (b RequestBatch) SizeHint() int { return surge.SizeHint(b.Requests) }

// Marshal implements surge.Marshaler.
func (b RequestBatch) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Marshal(b.Requests, buf, rem)
}

// Unmarshal implements surge.Unmarshaler.
func (b *RequestBatch) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Unmarshal(&b.Requests, buf, rem)
}
