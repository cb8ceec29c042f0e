package daemon

import (
	"time"

	"github.com/marktsuchida/partaked/internal/tokentable"
	"github.com/marktsuchida/partaked/token"
	"github.com/marktsuchida/partaked/wire"
)

// Session holds one client connection's table of handles and implements the
// semantic operations spec.md §4.4 defines. Every method runs to
// completion without yielding, consistent with the single-threaded
// cooperative event loop of spec.md §5 — the caller (the request handler)
// is responsible for ensuring no two Session methods, on any session, ever
// run concurrently.
type Session struct {
	ID   uint64
	repo *Repository

	helloReceived bool
	Name          string
	PID           int32

	// handles is this session's only source of truth for what the client
	// holds, keyed by the current token of the referenced object.
	handles *tokentable.Table[*Handle]

	voucherTTL time.Duration
	segment    wire.SegmentSpec
}

// NewSession returns a session with the given id, backed by repo, using
// voucherTTL as the default voucher lifetime and segment as the spec
// returned by GetSegment.
func NewSession(id uint64, repo *Repository, voucherTTL time.Duration, segment wire.SegmentSpec) *Session {
	return &Session{
		ID:         id,
		repo:       repo,
		handles:    tokentable.New[*Handle](),
		voucherTTL: voucherTTL,
		segment:    segment,
	}
}

func resource(p *ProperObject) Mapping {
	return Mapping{
		Key:       p.Key(),
		SegmentID: 0,
		Offset:    p.Resource.Offset(),
		Size:      p.Resource.Size(),
	}
}

// Ping has no side effects.
func (s *Session) Ping() Status { return StatusOK }

// Hello records the client's name (truncated to 1023 bytes, already done by
// the wire codec) and pid on the first call; a second call is rejected.
func (s *Session) Hello(name string, pid int32) Status {
	if s.helloReceived {
		return StatusInvalidRequest
	}
	s.Name = name
	s.PID = pid
	s.helloReceived = true
	return StatusOK
}

// GetSegment returns the mapping spec for segment id, which is always 0 in
// this single-segment implementation.
func (s *Session) GetSegment(id uint32) (wire.SegmentSpec, Status) {
	if id != 0 {
		return wire.SegmentSpec{}, StatusNoSuchSegment
	}
	return s.segment, StatusOK
}

// Alloc allocates size bytes from the allocator and creates both a fresh
// proper object and this session's handle on it. Always immediate.
func (s *Session) Alloc(size uint64, policy wire.Policy) (Mapping, Status) {
	obj, status := s.repo.CreateObject(policy, size)
	if status != StatusOK {
		return Mapping{}, status
	}

	p := obj.AsProper()
	h := NewHandle(p)
	h.Open()
	if policy == wire.PolicyDefault {
		p.exclusiveWriter = h
	}
	s.handles.Set(p.Key(), h)

	return resource(p), StatusOK
}

// resolveTarget mirrors the lookup open() and create_voucher() both need:
// first this session's own handle table, then the repository (following a
// voucher to its target if the voucher is valid at now). It does not claim
// the voucher: it returns the proper object and, if the lookup went through
// a voucher, that voucher (so the caller can claim it once preconditions
// are otherwise satisfied).
func (s *Session) resolveTarget(key token.Token, now time.Time) (p *ProperObject, h *Handle, v *Voucher, found bool) {
	if h, ok := s.handles.Get(key); ok {
		return h.Object(), h, nil, true
	}

	obj, ok := s.repo.FindObject(key)
	if !ok {
		return nil, nil, nil, false
	}
	if obj.IsProper() {
		return obj.AsProper(), nil, nil, true
	}

	voucher := obj.AsVoucher()
	if !voucher.IsValid(now) {
		return nil, nil, nil, false
	}
	return voucher.Target, nil, voucher, true
}

// Open resolves key to a proper object (directly, or via this session's
// handle table, or via a valid voucher) and either opens it immediately or
// registers a pending-on-share continuation, per spec.md §4.4. done is
// called exactly once, synchronously if the open could complete
// immediately, otherwise later when the object is shared or the wait is
// abandoned.
func (s *Session) Open(key token.Token, policy wire.Policy, wait bool, now time.Time, done Continuation) {
	p, existingHandle, voucher, found := s.resolveTarget(key, now)
	if !found || p.Policy() != policy {
		done(Result{Status: StatusNoSuchObject})
		return
	}

	canOpenNow := policy == wire.PolicyPrimitive || p.Shared
	if policy == wire.PolicyDefault && !p.Shared && p.OpenCount() == 0 {
		// Closed-before-share: the exclusive writer went away before
		// sharing. Claim the voucher (if any) so it does not linger.
		if voucher != nil {
			s.repo.ClaimVoucher(voucher, now)
		}
		done(Result{Status: StatusNoSuchObject})
		return
	}

	if !canOpenNow && !wait {
		done(Result{Status: StatusObjectBusy})
		return
	}

	if voucher != nil {
		if !s.repo.ClaimVoucher(voucher, now) {
			done(Result{Status: StatusNoSuchObject})
			return
		}
	}

	h := existingHandle
	if h == nil {
		h = NewHandle(p)
		s.handles.Set(p.Key(), h)
	}

	if canOpenNow {
		h.Open()
		done(Result{Status: StatusOK, Mapping: resource(p)})
		return
	}

	// The object may be shared (or may never be, if its exclusive writer
	// vanishes first) by the time this is resumed, so re-check rather than
	// trust the state captured at registration time.
	h.AddPendingOnShare(func(Result) {
		if p.Shared {
			h.Open()
			done(Result{Status: StatusOK, Mapping: resource(p)})
			return
		}
		done(Result{Status: StatusNoSuchObject})
	})
}

// Close matches spec.md §4.4's close(): decrements the handle's (and, on
// the last close, the object's) open count, which triggers
// ProperObject.close's own fan-out, drops the handle from this session's
// table once it has no opens and no pending requests left, then releases
// the object if that left it wholly unreferenced. Always immediate.
func (s *Session) Close(key token.Token) Status {
	h, ok := s.handles.Get(key)
	if !ok || h.OpenCount() == 0 {
		return StatusNoSuchObject
	}

	h.Close()
	if !h.IsOpen() && len(h.pendingOnShare) == 0 && !h.HasPendingOnUnique() {
		s.handles.Delete(key)
	}
	h.Object().maybeRelease(s.repo)
	return StatusOK
}

// Share matches spec.md §4.4's share(): only the current exclusive writer
// may share; doing so resumes every pending-on-share waiter. Always
// immediate.
func (s *Session) Share(key token.Token) Status {
	h, ok := s.handles.Get(key)
	if !ok || h.Object().exclusiveWriter != h {
		return StatusNoSuchObject
	}

	h.Object().share()
	return StatusOK
}

// Unshare matches spec.md §4.4's unshare(): either performs the rekey
// immediately, fails outright, or registers a pending-on-unique
// continuation. done is invoked exactly once with the new token on
// success.
func (s *Session) Unshare(key token.Token, wait bool, done Continuation) {
	h, ok := s.handles.Get(key)
	if !ok || h.OpenCount() == 0 || !h.Object().Shared {
		done(Result{Status: StatusNoSuchObject})
		return
	}

	p := h.Object()
	if p.hasHandleAwaitingUniqueOwnership() {
		done(Result{Status: StatusObjectReserved})
		return
	}

	if h.IsOpenUniquely() {
		s.performUnshare(h, done)
		return
	}

	if !wait {
		done(Result{Status: StatusObjectBusy})
		return
	}

	h.SetPendingOnUnique(func(_ Result) {
		if h.IsOpenUniquely() {
			s.performUnshare(h, done)
			return
		}
		done(Result{Status: StatusNoSuchObject})
	})
}

// performUnshare carries out the state transition shared by Unshare's
// immediate and deferred paths: remove the handle from the session table
// under its old key, flip shared/exclusive-writer, rekey the object, and
// reinsert the handle under the new key.
func (s *Session) performUnshare(h *Handle, done Continuation) {
	p := h.Object()
	s.handles.Delete(p.Key())
	p.unshare(h)
	s.repo.RekeyObject(p.owner)
	s.handles.Set(p.Key(), h)
	done(Result{Status: StatusOK, Key: p.Key()})
}

// CreateVoucher resolves targetKey as Open does, then creates a
// time-limited voucher on the resolved proper object. Always immediate.
func (s *Session) CreateVoucher(targetKey token.Token, count uint32, now time.Time) (token.Token, Status) {
	if count == 0 {
		return token.Invalid, StatusInvalidRequest
	}

	p, _, _, found := s.resolveTarget(targetKey, now)
	if !found {
		return token.Invalid, StatusNoSuchObject
	}

	obj := s.repo.CreateVoucher(p, now.Add(s.voucherTTL), count)
	return obj.Tok, StatusOK
}

// DiscardVoucher looks up key in the repository: a proper object's key is
// returned unchanged (idempotent no-op); a voucher is claimed, returning
// the target's key on success.
func (s *Session) DiscardVoucher(key token.Token, now time.Time) (token.Token, Status) {
	obj, ok := s.repo.FindObject(key)
	if !ok {
		return token.Invalid, StatusNoSuchObject
	}
	if obj.IsProper() {
		return obj.Tok, StatusOK
	}

	v := obj.AsVoucher()
	if !s.repo.ClaimVoucher(v, now) {
		return token.Invalid, StatusNoSuchObject
	}
	return v.Target.Key(), StatusOK
}

// Shutdown drops every pending request on every handle this session holds
// (without resuming them) and closes out their open counts, releasing each
// object that this leaves wholly unreferenced, per spec.md §4.7 ("all
// sessions drop pending requests... all sessions are destroyed"). No
// responses are produced: the socket is already gone.
func (s *Session) Shutdown() {
	s.handles.Range(func(_ token.Token, h *Handle) bool {
		p := h.Object()
		h.CloseAll()
		p.maybeRelease(s.repo)
		return true
	})
}
