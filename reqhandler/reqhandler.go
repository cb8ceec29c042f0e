// Package reqhandler dispatches one decoded request batch against a
// session and assembles the matching response batch, the Go rendering of
// spec.md §4.6. It is pure: it never touches a socket or the framer,
// leaving transport entirely to the acceptor.
package reqhandler

import (
	"time"

	"github.com/marktsuchida/partaked/daemon"
	"github.com/marktsuchida/partaked/wire"
)

// Deferred delivers a response batch produced after Handle has already
// returned — the wire rendering of a resumed pending_on_share/
// pending_on_unique continuation, each carrying exactly one response
// (spec.md §4.6: "each with a single response carrying the original
// seqno"). The caller supplies this so reqhandler never needs to know how
// responses reach the wire; the acceptor's session loop is what actually
// frames and writes it.
type Deferred func(wire.ResponseBatch)

// Handle dispatches every request in batch against session in order,
// appending each response that resolves immediately to the returned
// batch, and arranging for any request that must wait (Open/Unshare with
// wait=true) to call deferred with its own single-response batch once it
// resolves. quit reports whether the session should be torn down: a Quit
// request, or an unrecognized variant tag (spec.md §4.6's protocol-skew
// protection) ends the batch early without processing later requests in
// it.
func Handle(session *daemon.Session, batch wire.RequestBatch, now time.Time, deferred Deferred) (resp wire.ResponseBatch, quit bool) {
	for _, req := range batch.Requests {
		r, q := dispatch(session, req, now, deferred)
		if r != nil {
			resp.Responses = append(resp.Responses, *r)
		}
		if q {
			return resp, true
		}
	}
	return resp, false
}

// dispatch handles one request. A nil *wire.Response means the request
// registered a continuation that did not fire synchronously: no response
// belongs in the current batch, because it will arrive later through
// deferred instead.
func dispatch(s *daemon.Session, req wire.Request, now time.Time, deferred Deferred) (*wire.Response, bool) {
	switch req.Kind {
	case wire.RequestPing:
		return reply(req, wire.Response{Status: s.Ping()}), false

	case wire.RequestHello:
		status := s.Hello(req.HelloName, req.HelloPID)
		return reply(req, wire.Response{Status: status, SessionID: s.ID}), false

	case wire.RequestQuit:
		return reply(req, wire.Response{Status: wire.StatusOK}), true

	case wire.RequestGetSegment:
		spec, status := s.GetSegment(req.SegmentID)
		return reply(req, wire.Response{Status: status, Segment: spec}), false

	case wire.RequestAlloc:
		mapping, status := s.Alloc(req.AllocSize, req.AllocPolicy)
		return reply(req, wire.Response{Status: status, Mapping: mapping}), false

	case wire.RequestOpen:
		return resolve(req, deferred, func(done daemon.Continuation) {
			s.Open(req.Key, req.AllocPolicy, req.Wait, now, done)
		}), false

	case wire.RequestClose:
		return reply(req, wire.Response{Status: s.Close(req.Key)}), false

	case wire.RequestShare:
		return reply(req, wire.Response{Status: s.Share(req.Key)}), false

	case wire.RequestUnshare:
		return resolve(req, deferred, func(done daemon.Continuation) {
			s.Unshare(req.Key, req.Wait, done)
		}), false

	case wire.RequestCreateVoucher:
		key, status := s.CreateVoucher(req.Key, req.VoucherCount, now)
		return reply(req, wire.Response{Status: status, Key: key}), false

	case wire.RequestDiscardVoucher:
		key, status := s.DiscardVoucher(req.Key, now)
		return reply(req, wire.Response{Status: status, Key: key}), false

	default:
		return reply(req, wire.Response{Status: wire.StatusInvalidRequest}), true
	}
}

// reply stamps a freshly built Response with the request's seqno and kind.
func reply(req wire.Request, r wire.Response) *wire.Response {
	r.Seqno = req.Seqno
	r.Kind = req.Kind
	return &r
}

// resolve runs register, which must call its daemon.Continuation argument
// exactly once, either before returning (immediate completion) or later
// (a suspended pending_on_share/pending_on_unique request). A call made
// before register returns is reported back to Handle as this request's
// response; a call made afterward is instead packaged as its own
// single-response batch and handed to deferred.
func resolve(req wire.Request, deferred Deferred, register func(daemon.Continuation)) *wire.Response {
	var (
		immediate *wire.Response
		settled   bool
	)
	register(func(r daemon.Result) {
		resp := reply(req, wire.Response{Status: r.Status, Mapping: r.Mapping, Key: r.Key})
		if !settled {
			immediate = resp
			return
		}
		deferred(wire.ResponseBatch{Responses: []wire.Response{*resp}})
	})
	settled = true
	return immediate
}
