package daemon

import (
	"time"

	"github.com/marktsuchida/partaked/arena"
	"github.com/marktsuchida/partaked/internal/tokentable"
	"github.com/marktsuchida/partaked/token"
	"github.com/marktsuchida/partaked/wire"
)

// Repository is the process-wide registry mapping tokens to objects. Its
// table entry does not by itself extend an object's lifetime: there is no
// reference count; instead ProperObject.maybeRelease, run after every
// operation that can drop a reference, erases the table entry and returns
// the proper object's resource to the allocator once no handle has it open
// or pending and no voucher targets it — the Go rendering of
// repository.hpp's custom-deleter shared_ptr (spec.md §9, "Shared
// ownership with custom drop").
type Repository struct {
	objects   *tokentable.Table[*Object]
	seq       *token.Sequence
	allocator *arena.Allocator
	vouchers  *VoucherQueue
}

// NewRepository returns an empty Repository allocating chunks from
// allocator and expiring vouchers through queue.
func NewRepository(allocator *arena.Allocator, queue *VoucherQueue) *Repository {
	return &Repository{
		objects:   tokentable.New[*Object](),
		seq:       token.NewSequence(),
		allocator: allocator,
		vouchers:  queue,
	}
}

// Allocator returns the block allocator objects are carved from.
func (r *Repository) Allocator() *arena.Allocator { return r.allocator }

// VoucherQueue returns the expiration queue vouchers are enqueued into.
func (r *Repository) VoucherQueue() *VoucherQueue { return r.vouchers }

func (r *Repository) freshToken() token.Token {
	for {
		t := r.seq.Next()
		if _, exists := r.objects.Get(t); !exists {
			return t
		}
	}
}

// CreateObject allocates a chunk of size bytes from the allocator and, on
// success, registers a new ProperObject for it under a fresh token.
// Returns (nil, StatusOutOfShmem) if the allocator has no room.
func (r *Repository) CreateObject(policy wire.Policy, size uint64) (*Object, Status) {
	alloc := r.allocator.Allocate(size)
	if !alloc.Valid() {
		return nil, StatusOutOfShmem
	}

	obj := &Object{Tok: r.freshToken(), Policy: policy}
	obj.proper = &ProperObject{owner: obj, Resource: alloc}
	r.objects.Set(obj.Tok, obj)
	return obj, StatusOK
}

// FindObject looks up an object by token.
func (r *Repository) FindObject(tok token.Token) (*Object, bool) {
	return r.objects.Get(tok)
}

// RekeyObject removes obj's current table entry, assigns it a fresh token,
// and reinserts it. Precondition: obj is a proper object currently
// registered under its existing token.
func (r *Repository) RekeyObject(obj *Object) {
	r.objects.Delete(obj.Tok)
	obj.Tok = r.freshToken()
	r.objects.Set(obj.Tok, obj)
}

// CreateVoucher registers a new Voucher targeting target, valid for count
// claims until expiration, and enqueues it in the voucher expiration queue.
func (r *Repository) CreateVoucher(target *ProperObject, expiration time.Time, count uint32) *Object {
	obj := &Object{Tok: r.freshToken(), Policy: target.Policy()}
	v := &Voucher{owner: obj, Target: target, remainingCount: count, Expiration: expiration}
	obj.voucher = v
	target.addVoucher()
	r.objects.Set(obj.Tok, obj)
	r.vouchers.Enqueue(v)
	return obj
}

// ClaimVoucher attempts a claim at time now; on success, if the voucher is
// no longer valid afterwards, it is dropped from the expiration queue and
// erased from the repository.
func (r *Repository) ClaimVoucher(v *Voucher, now time.Time) bool {
	if !v.Claim(now) {
		return false
	}
	if !v.IsValid(now) {
		r.dropVoucher(v)
	}
	return true
}

// dropVoucher removes v from the expiration queue and erases its table
// entry and its hold on the target's voucher count.
func (r *Repository) dropVoucher(v *Voucher) {
	r.vouchers.Drop(v)
	r.objects.Delete(v.owner.Tok)
	v.Target.dropVoucher()
	v.Target.maybeRelease(r)
}

// ExpireVouchers removes every voucher whose expiration is at or before now
// from the expiration queue, erasing each from the repository and dropping
// its hold on its target (releasing the target's resource too, if that was
// the target's last reference). Called by the event loop in response to
// the voucher queue's Wake callback.
func (r *Repository) ExpireVouchers(now time.Time) {
	for _, v := range r.vouchers.ExpireNow(now) {
		r.objects.Delete(v.owner.Tok)
		v.Target.dropVoucher()
		v.Target.maybeRelease(r)
	}
}

// DropAllVouchers clears the expiration queue and erases every voucher's
// repository entry and hold, used at daemon shutdown.
func (r *Repository) DropAllVouchers() {
	expired := make([]*Voucher, 0)
	for _, o := range r.snapshotVouchers() {
		expired = append(expired, o.voucher)
	}
	r.vouchers.DropAll()
	for _, v := range expired {
		r.objects.Delete(v.owner.Tok)
		v.Target.dropVoucher()
		v.Target.maybeRelease(r)
	}
}

func (r *Repository) snapshotVouchers() []*Object {
	var out []*Object
	r.objects.Range(func(_ token.Token, o *Object) bool {
		if o.IsVoucher() {
			out = append(out, o)
		}
		return true
	})
	return out
}

// ReleaseObject erases a proper object's table entry and returns its
// resource to the allocator. Called by ProperObject.maybeRelease once no
// handle has the object open or pending and it holds no live vouchers.
func (r *Repository) ReleaseObject(p *ProperObject) {
	r.objects.Delete(p.owner.Tok)
	r.allocator.Free(p.Resource)
}

// RehashIfAppropriate reconsiders the repository's backing table size,
// called once per inbound message per spec.md §4.2/§9.
func (r *Repository) RehashIfAppropriate(allowShrink bool) {
	r.objects.RehashIfAppropriate(allowShrink)
}
