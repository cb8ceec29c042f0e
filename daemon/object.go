// Package daemon implements the core in-process arbitration engine: the
// object/handle/voucher state machine, the repository that owns them, the
// voucher expiration queue, and the per-connection session that exposes the
// semantic operations (alloc, open, close, share, unshare, create/discard
// voucher). Grounded on daemon/proper_object.hpp, daemon/voucher.hpp,
// daemon/handle.hpp, daemon/repository.hpp, daemon/voucher_queue.hpp, and
// daemon/session.hpp.
package daemon

import (
	"time"

	"github.com/marktsuchida/partaked/arena"
	"github.com/marktsuchida/partaked/token"
	"github.com/marktsuchida/partaked/wire"
)

// Object is a tagged union of ProperObject and Voucher sharing one token and
// one policy, mirroring daemon/object.hpp's std::variant. Implemented as a
// struct with an optional pointer to each kind rather than a Go interface:
// rekeying (§4.2, unshare) must swap the object's token in place while every
// existing reference to it keeps seeing the update, which a value-typed
// interface cannot express as naturally as a shared pointer-to-struct.
type Object struct {
	Tok    token.Token
	Policy wire.Policy

	proper  *ProperObject
	voucher *Voucher
}

// IsProper reports whether o holds a ProperObject.
func (o *Object) IsProper() bool { return o.proper != nil }

// IsVoucher reports whether o holds a Voucher.
func (o *Object) IsVoucher() bool { return o.voucher != nil }

// AsProper returns the ProperObject, or nil if o is a voucher.
func (o *Object) AsProper() *ProperObject { return o.proper }

// AsVoucher returns the Voucher, or nil if o is a proper object.
func (o *Object) AsVoucher() *Voucher { return o.voucher }

// ProperObject is the daemon-side descriptor for one allocated chunk: its
// resource, sharing state, and the handles/waiters that reference it.
type ProperObject struct {
	owner *Object

	Resource arena.ByteAllocation

	// Shared is always false for PRIMITIVE objects; for DEFAULT objects it
	// is monotonic false->true except that a successful unshare resets it
	// to false (and rekeys the object).
	Shared bool

	openCount    int
	voucherCount int

	exclusiveWriter *Handle

	// handlesAwaitingShare is ordered (FIFO resumption, per spec.md §5).
	handlesAwaitingShare []*Handle

	handleAwaitingUniqueOwnership *Handle

	// released is set once maybeRelease has returned the resource.
	released bool
}

// Key returns the object's current token.
func (p *ProperObject) Key() token.Token { return p.owner.Tok }

// Policy returns the object's immutable policy.
func (p *ProperObject) Policy() wire.Policy { return p.owner.Policy }

// OpenCount returns the number of handles (across all sessions) that
// currently have this object opened.
func (p *ProperObject) OpenCount() int { return p.openCount }

// VoucherCount returns the number of live vouchers targeting this object.
func (p *ProperObject) VoucherCount() int { return p.voucherCount }

// ExclusiveWriter returns the handle currently holding exclusive-writer
// status, or nil.
func (p *ProperObject) ExclusiveWriter() *Handle { return p.exclusiveWriter }

// maybeRelease returns the object's resource to repo's allocator and erases
// its repository entry once nothing references it any longer: no open or
// pending-open handles, and no live vouchers. This is the Go stand-in for
// the reference implementation's shared_ptr refcounting, called after every
// operation that can drop one of those references to zero. Calls after the
// first release are no-ops.
func (p *ProperObject) maybeRelease(repo *Repository) {
	if !p.released && p.openCount == 0 && p.voucherCount == 0 &&
		len(p.handlesAwaitingShare) == 0 && p.handleAwaitingUniqueOwnership == nil {
		p.released = true
		repo.ReleaseObject(p)
	}
}

// IsOpenedByUniqueHandle reports whether exactly one handle has this object
// open and no vouchers target it — the precondition unshare needs beyond a
// single handle's own open count being 1.
func (p *ProperObject) IsOpenedByUniqueHandle() bool {
	return p.openCount == 1 && p.voucherCount == 0
}

func (p *ProperObject) open() { p.openCount++ }

// close matches proper_object.hpp's close(handle*): called exactly once,
// by Handle.Close, on the handle's own open-count 1->0 transition. It
// resumes a pending-on-unique waiter (on success, if the object is now
// uniquely open; on failure, if hnd was itself that waiter), and, if hnd
// was the exclusive writer, resumes every handle awaiting share (to fail,
// since the writer vanished before sharing).
func (p *ProperObject) close(hnd *Handle) {
	p.openCount--

	if waiter := p.handleAwaitingUniqueOwnership; waiter != nil {
		if (p.openCount == 1 && p.voucherCount == 0 && waiter.IsOpenUniquely()) || waiter == hnd {
			p.handleAwaitingUniqueOwnership = nil
			waiter.ResumePendingOnUnique(Result{})
		}
	}

	if p.exclusiveWriter == hnd {
		p.exclusiveWriter = nil
		for _, waiter := range p.takeHandlesAwaitingShare() {
			waiter.ResumePendingOnShare(Result{})
		}
	}
}

// share matches proper_object.hpp's share(): flips the object to shared and
// resumes every handle awaiting share. Precondition: the caller has checked
// that the requesting handle is the current exclusive writer (Session.Share
// does).
func (p *ProperObject) share() {
	p.Shared = true
	p.exclusiveWriter = nil
	for _, waiter := range p.takeHandlesAwaitingShare() {
		waiter.ResumePendingOnShare(Result{})
	}
}

// unshare matches proper_object.hpp's unshare(): flips the object back to
// exclusive, naming newWriter (the uniquely-opening handle performing the
// unshare) as its new exclusive writer. The caller (Session) is responsible
// for the accompanying rekey.
func (p *ProperObject) unshare(newWriter *Handle) {
	p.Shared = false
	p.exclusiveWriter = newWriter
}

// addVoucher registers one more live voucher against p.
func (p *ProperObject) addVoucher() { p.voucherCount++ }

// dropVoucher matches proper_object.hpp's drop_voucher(): removes one
// voucher reference and resumes a pending-on-unique waiter if doing so left
// the object uniquely open.
func (p *ProperObject) dropVoucher() {
	p.voucherCount--
	if waiter := p.handleAwaitingUniqueOwnership; waiter != nil {
		if p.openCount == 1 && p.voucherCount == 0 && waiter.IsOpenUniquely() {
			p.handleAwaitingUniqueOwnership = nil
			waiter.ResumePendingOnUnique(Result{})
		}
	}
}

func (p *ProperObject) addHandleAwaitingShare(h *Handle) {
	p.handlesAwaitingShare = append(p.handlesAwaitingShare, h)
}

func (p *ProperObject) removeHandleAwaitingShare(h *Handle) {
	for i, x := range p.handlesAwaitingShare {
		if x == h {
			p.handlesAwaitingShare = append(p.handlesAwaitingShare[:i], p.handlesAwaitingShare[i+1:]...)
			return
		}
	}
}

func (p *ProperObject) takeHandlesAwaitingShare() []*Handle {
	handles := p.handlesAwaitingShare
	p.handlesAwaitingShare = nil
	return handles
}

func (p *ProperObject) hasHandleAwaitingUniqueOwnership() bool {
	return p.handleAwaitingUniqueOwnership != nil
}

func (p *ProperObject) setHandleAwaitingUniqueOwnership(h *Handle) {
	p.handleAwaitingUniqueOwnership = h
}

func (p *ProperObject) clearHandleAwaitingUniqueOwnership(h *Handle) {
	if p.handleAwaitingUniqueOwnership == h {
		p.handleAwaitingUniqueOwnership = nil
	}
}

// Voucher is a reference-counted, time-limited delegated claim on a
// ProperObject.
type Voucher struct {
	owner *Object

	Target         *ProperObject
	remainingCount uint32
	Expiration     time.Time

	queued    bool
	heapIndex int
}

// Key returns the voucher's current token.
func (v *Voucher) Key() token.Token { return v.owner.Tok }

// IsValid reports whether the voucher may still be claimed at time now.
func (v *Voucher) IsValid(now time.Time) bool {
	return v.remainingCount > 0 && !now.After(v.Expiration)
}

// Claim attempts to consume one use of the voucher at time now. It returns
// false (without effect) if the voucher is not valid.
func (v *Voucher) Claim(now time.Time) bool {
	if !v.IsValid(now) {
		return false
	}
	v.remainingCount--
	return true
}
