package daemon

// Continuation is the resumption callback stored on a handle while a
// request is suspended. It is invoked synchronously, from inside whatever
// operation causes the awaited predicate to become true (or become
// permanently false), because the whole daemon runs as a single-threaded
// event loop (spec.md §5) — there is no channel or goroutine hop here, only
// a plain closure, mirroring daemon/handle.hpp's std::function continuation.
type Continuation func(Result)

// Result carries the outcome delivered to a Continuation, or produced
// directly by an immediate operation.
type Result struct {
	Status  Status
	Mapping Mapping
	Key     Token
}

// Handle is a session's per-object view: its own open count, and any
// requests suspended pending a predicate on the referenced ProperObject.
// Grounded on daemon/handle.hpp.
type Handle struct {
	object *ProperObject

	openCount int

	pendingOnShare  []Continuation
	pendingOnUnique Continuation
}

// NewHandle returns a handle referencing object, with open count zero.
func NewHandle(object *ProperObject) *Handle {
	return &Handle{object: object}
}

// Key returns the token of the object this handle references.
func (h *Handle) Key() Token { return h.object.Key() }

// Object returns the ProperObject this handle references.
func (h *Handle) Object() *ProperObject { return h.object }

// Open increments this handle's and (on the 0->1 transition) the object's
// open count.
func (h *Handle) Open() {
	if h.openCount == 0 {
		h.object.open()
	}
	h.openCount++
}

// Close decrements this handle's open count and, on the 1->0 transition,
// asks the object to run its close fan-out (ProperObject.close): resuming a
// pending-on-unique waiter and, if this handle was the exclusive writer,
// failing every handle awaiting share.
func (h *Handle) Close() {
	h.openCount--
	if h.openCount == 0 {
		h.object.close(h)
	}
}

// OpenCount returns the number of opens by this handle not yet matched by a
// close.
func (h *Handle) OpenCount() int { return h.openCount }

// IsOpen reports whether this handle currently has any opens outstanding.
func (h *Handle) IsOpen() bool { return h.openCount > 0 }

// IsOpenUniquely reports whether this handle is the sole opener of its
// object, which has no live vouchers.
func (h *Handle) IsOpenUniquely() bool {
	return h.openCount == 1 && h.object.IsOpenedByUniqueHandle()
}

// AddPendingOnShare registers cont to be resumed once h.object becomes
// shared, and adds h to the object's awaiting-share list.
func (h *Handle) AddPendingOnShare(cont Continuation) {
	h.object.addHandleAwaitingShare(h)
	h.pendingOnShare = append(h.pendingOnShare, cont)
}

// HasPendingOnUnique reports whether this handle has an outstanding
// pending-on-unique continuation.
func (h *Handle) HasPendingOnUnique() bool { return h.pendingOnUnique != nil }

// SetPendingOnUnique registers cont as the (sole) pending-on-unique
// continuation for h, and marks h as the object's awaiting-unique-ownership
// handle.
func (h *Handle) SetPendingOnUnique(cont Continuation) {
	h.object.setHandleAwaitingUniqueOwnership(h)
	h.pendingOnUnique = cont
}

// ResumePendingOnShare invokes and clears every pending-on-share
// continuation, in FIFO registration order.
func (h *Handle) ResumePendingOnShare(result Result) {
	pending := h.pendingOnShare
	h.pendingOnShare = nil
	for _, cont := range pending {
		cont(result)
	}
}

// ResumePendingOnUnique invokes and clears the pending-on-unique
// continuation, if any.
func (h *Handle) ResumePendingOnUnique(result Result) {
	if h.pendingOnUnique == nil {
		return
	}
	cont := h.pendingOnUnique
	h.pendingOnUnique = nil
	cont(result)
}

// DropPendingRequests clears every suspended continuation on h without
// invoking them — used when the owning session is torn down, so that no
// resumption ever fires against a dead session (spec.md §5 cancellation
// semantics).
func (h *Handle) DropPendingRequests() {
	if len(h.pendingOnShare) > 0 {
		h.object.removeHandleAwaitingShare(h)
		h.pendingOnShare = nil
	}
	if h.pendingOnUnique != nil {
		h.object.clearHandleAwaitingUniqueOwnership(h)
		h.pendingOnUnique = nil
	}
}

// CloseAll drops any pending requests and closes out every outstanding open
// on h, as performed when a session destroys a handle.
func (h *Handle) CloseAll() {
	h.DropPendingRequests()
	for h.openCount > 0 {
		h.Close()
	}
}
