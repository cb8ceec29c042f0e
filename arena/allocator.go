package arena

// Allocator wraps an Arena to present an interface in terms of bytes rather
// than block counts, with a configurable power-of-two block size
// (granularity). Block size == 1 << log2BlockSize.
type Allocator struct {
	arena          *Arena
	log2BlockSize  uint
}

// NewAllocator returns an Allocator managing size bytes, rounded down to a
// whole number of blocks of size 1<<log2BlockSize.
func NewAllocator(size uint64, log2BlockSize uint) *Allocator {
	return &Allocator{
		arena:         New(size >> log2BlockSize),
		log2BlockSize: log2BlockSize,
	}
}

// Size returns the total number of bytes managed by the allocator.
func (al *Allocator) Size() uint64 {
	return al.arena.Size() << al.log2BlockSize
}

// Log2Granularity returns the base-2 log of the allocator's block size.
func (al *Allocator) Log2Granularity() uint {
	return al.log2BlockSize
}

// Arena returns the underlying block arena, for callers (tests, diagnostics)
// that need block-level access.
func (al *Allocator) Arena() *Arena {
	return al.arena
}

// ByteAllocation identifies a byte range handed out by an Allocator. The
// zero value is invalid.
type ByteAllocation struct {
	alloc         Allocation
	log2BlockSize uint
}

// Valid reports whether the allocation succeeded.
func (ba ByteAllocation) Valid() bool { return ba.alloc.Valid() }

// Offset returns the byte offset of the allocated range.
func (ba ByteAllocation) Offset() uint64 { return ba.alloc.Start() << ba.log2BlockSize }

// Size returns the byte length of the allocated range. It may be larger than
// the size requested, rounded up to the allocator's granularity.
func (ba ByteAllocation) Size() uint64 { return ba.alloc.Count() << ba.log2BlockSize }

// Allocate reserves size bytes, rounded up to the allocator's block
// granularity, returning an invalid ByteAllocation if no chunk is large
// enough.
func (al *Allocator) Allocate(size uint64) ByteAllocation {
	var count uint64
	if size != 0 {
		count = ((size - 1) >> al.log2BlockSize) + 1
	}
	return ByteAllocation{alloc: al.arena.Allocate(count), log2BlockSize: al.log2BlockSize}
}

// Free returns ba's bytes to the allocator.
func (al *Allocator) Free(ba ByteAllocation) {
	al.arena.Free(ba.alloc)
}
