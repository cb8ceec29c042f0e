package wire

import (
	"fmt"

	"github.com/renproject/surge"

	"github.com/marktsuchida/partaked/token"
)

// Response is one record in a ResponseBatch, echoing the Seqno of the
// request it answers. A deferred completion (§5 "pending_on_share"/
// "pending_on_unique") produces its own later ResponseBatch carrying a
// single Response with the original Seqno, exactly like any synchronous
// reply.
type Response struct {
	Seqno  uint64
	Kind   RequestKind
	Status Status

	// HelloResponse
	SessionID uint64

	// GetSegmentResponse
	Segment SegmentSpec

	// AllocResponse / OpenResponse
	Mapping Mapping

	// UnshareResponse / CreateVoucherResponse / DiscardVoucherResponse
	Key token.Token
}

// SizeHint implements surge.SizeHinter.
func (r Response) SizeHint() int {
	return surge.SizeHint(r.Seqno) + 1 + r.Status.SizeHint() +
		surge.SizeHint(r.SessionID) + r.Segment.SizeHint() +
		r.Mapping.SizeHint() + surge.SizeHint(uint64(r.Key))
}

// Marshal implements surge.Marshaler.
func (r Response) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU64(r.Seqno, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling seqno: %w", err)
	}
	buf, rem, err = surge.MarshalU8(uint8(r.Kind), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling kind: %w", err)
	}
	buf, rem, err = r.Status.Marshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling status: %w", err)
	}
	buf, rem, err = surge.MarshalU64(r.SessionID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling session id: %w", err)
	}
	buf, rem, err = r.Segment.Marshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling segment: %w", err)
	}
	buf, rem, err = r.Mapping.Marshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling mapping: %w", err)
	}
	buf, rem, err = surge.MarshalU64(uint64(r.Key), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling key: %w", err)
	}
	return buf, rem, nil
}

// Unmarshal implements surge.Unmarshaler.
func (r *Response) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
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
	buf, rem, err = r.Status.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling status: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&r.SessionID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling session id: %w", err)
	}
	buf, rem, err = r.Segment.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling segment: %w", err)
	}
	buf, rem, err = r.Mapping.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling mapping: %w", err)
	}
	var key uint64
	buf, rem, err = surge.UnmarshalU64(&key, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling key: %w", err)
	}
	r.Key = token.Token(key)
	return buf, rem, nil
}

// ResponseBatch is the payload of one outbound frame.
type ResponseBatch struct {
	Responses []Response
}

// SizeHint implements surge.SizeHinter.
func (b ResponseBatch) SizeHint() int { return surge.SizeHint(b.Responses) }

// Marshal implements surge.Marshaler.
func (b ResponseBatch) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Marshal(b.Responses, buf, rem)
}

// Unmarshal implements surge.Unmarshaler.
func (b *ResponseBatch) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Unmarshal(&b.Responses, buf, rem)
}
