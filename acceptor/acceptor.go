// Package acceptor owns the daemon's Unix-domain listening socket, the
// per-connection read/write goroutines, and the single event-loop
// goroutine that is the only thing ever allowed to touch a
// daemon.Repository or daemon.Session — the concurrency shape spec.md §5
// calls "single-threaded cooperative": one goroutine owns all daemon
// state, connection goroutines only read and write their own socket and
// hand decoded requests to the event loop over a channel. Grounded on
// daemon/connection_acceptor.hpp for the accept/close lifecycle.
package acceptor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marktsuchida/partaked/daemon"
	"github.com/marktsuchida/partaked/framer"
	"github.com/marktsuchida/partaked/internal/logging"
	"github.com/marktsuchida/partaked/reqhandler"
	"github.com/marktsuchida/partaked/wire"
)

// outboxCapacity bounds how many response batches a session's write loop
// may have queued before the event loop's non-blocking send to it starts
// dropping; generous so one slow client doesn't stall every other
// session, which a blocking send from the event loop goroutine would risk.
const outboxCapacity = 64

type eventKind int

const (
	eventNewSession eventKind = iota
	eventRequestBatch
	eventSessionClosed
	eventExpireVouchers
)

type event struct {
	kind      eventKind
	sessionID uint64
	outbox    chan wire.ResponseBatch
	closeConn func()
	batch     wire.RequestBatch
}

// sessionHandle is the event loop's private bookkeeping for one live
// session: its daemon state, where its responses go, and how to make its
// connection goroutine notice the session is over.
type sessionHandle struct {
	session   *daemon.Session
	outbox    chan wire.ResponseBatch
	closeConn func()
}

// Acceptor binds one Unix-domain stream socket and runs the daemon's
// single event-loop goroutine once Serve is called.
type Acceptor struct {
	path       string
	force      bool
	repo       *daemon.Repository
	voucherTTL time.Duration
	segment    wire.SegmentSpec
	log        logging.Logger

	listener *net.UnixListener
	events   chan event
	quit     chan struct{}

	wg sync.WaitGroup
}

// New returns an Acceptor that will listen on path, brokering access to
// repo, reporting segment to every session's GetSegment, and granting
// vouchers voucherTTL to live. If force, any existing file at path is
// removed before binding.
func New(path string, force bool, repo *daemon.Repository, voucherTTL time.Duration, segment wire.SegmentSpec, log logging.Logger) *Acceptor {
	a := &Acceptor{
		path:       path,
		force:      force,
		repo:       repo,
		voucherTTL: voucherTTL,
		segment:    segment,
		log:        log,
		events:     make(chan event, outboxCapacity),
		quit:       make(chan struct{}),
	}

	// The voucher queue's timer fires on its own goroutine; it must only
	// signal the event loop, never touch repo state itself (spec.md §5).
	repo.VoucherQueue().Wake = func() {
		select {
		case a.events <- event{kind: eventExpireVouchers}:
		default:
			a.log.Error().Msg("dropping voucher expiration wake-up: event queue full")
		}
	}

	return a
}

// Listen binds the socket. Callers must call Listen before Serve, and
// should treat a returned error as a systemic startup failure (spec.md
// §7).
func (a *Acceptor) Listen() error {
	if a.force {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("acceptor: removing existing socket %s: %w", a.path, err)
		}
	}

	addr, err := net.ResolveUnixAddr("unix", a.path)
	if err != nil {
		return fmt.Errorf("acceptor: resolving socket path %s: %w", a.path, err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("acceptor: listening on %s: %w", a.path, err)
	}
	a.listener = l
	a.log.Info().Str("path", a.path).Msg("listening on socket")
	return nil
}

// Serve runs the accept loop and the event loop until Quit is called or
// the listener fails, then drops every session's pending requests,
// destroys every session, and drains the voucher queue, per spec.md §4.7.
// It returns once every connection goroutine it spawned has wound down.
func (a *Acceptor) Serve() {
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		a.acceptLoop()
	}()

	a.eventLoop()

	// Connections forced closed by eventLoop's shutdown still need to
	// report back (eventSessionClosed) before their goroutines exit;
	// drain those so none blocks forever sending to a.events after
	// nothing is reading it in a select loop anymore.
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for range a.events {
		}
	}()

	<-acceptDone
	a.wg.Wait()
	close(a.events)
	<-drainDone
}

// Quit stops the accept loop and begins Serve's teardown. Safe to call
// once.
func (a *Acceptor) Quit() {
	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
}

func (a *Acceptor) acceptLoop() {
	var nextSessionID uint64
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return
			default:
				a.log.Error().Err(err).Msg("failed to accept connection")
				return
			}
		}

		nextSessionID++
		sessionID := nextSessionID
		a.wg.Add(1)
		go a.serveConnection(conn, sessionID)
	}
}

func (a *Acceptor) serveConnection(conn net.Conn, sessionID uint64) {
	defer a.wg.Done()
	defer conn.Close()

	log := a.log.Session(sessionID)
	log.Info().Msg("accepted connection")

	outbox := make(chan wire.ResponseBatch, outboxCapacity)
	// closeConn shuts down only the read side, so the read loop below ends
	// while the write loop still sends every response already queued; the
	// deferred conn.Close runs once the write loop has finished.
	closeConn := func() {
		if uc, ok := conn.(*net.UnixConn); ok {
			uc.CloseRead()
			return
		}
		conn.Close()
	}
	a.events <- event{kind: eventNewSession, sessionID: sessionID, outbox: outbox, closeConn: closeConn}

	a.wg.Add(1)
	writerDone := make(chan struct{})
	go func() {
		defer a.wg.Done()
		defer close(writerDone)
		writeLoop(conn, outbox, log)
	}()

	reader := framer.NewReader(conn)
	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("connection read error")
			}
			break
		}

		var batch wire.RequestBatch
		if _, _, err := batch.Unmarshal(payload, len(payload)); err != nil {
			log.Error().Err(err).Msg("malformed request message")
			break
		}

		a.events <- event{kind: eventRequestBatch, sessionID: sessionID, batch: batch}
	}

	a.events <- event{kind: eventSessionClosed, sessionID: sessionID}
	<-writerDone // outbox is only ever closed by the event loop, once.
}

// writeLoop serializes and writes every response batch sent on outbox,
// until it is closed, matching async_message_writer's single-write-in-
// flight discipline (spec.md §4.5) by never starting the next frame until
// the previous one's Write returns.
func writeLoop(conn net.Conn, outbox <-chan wire.ResponseBatch, log logging.Logger) {
	for batch := range outbox {
		payload := make([]byte, batch.SizeHint())
		if _, _, err := batch.Marshal(payload, len(payload)); err != nil {
			log.Error().Err(err).Msg("failed to marshal response batch")
			return
		}
		if err := framer.WriteFrame(conn, payload); err != nil {
			log.Error().Err(err).Msg("failed to write response frame")
			return
		}
	}
}

// eventLoop is the single goroutine that owns a.repo and every live
// session. It runs until a.quit fires, then shuts every session down and
// drains the voucher queue before returning.
func (a *Acceptor) eventLoop() {
	sessions := make(map[uint64]sessionHandle)

	for {
		select {
		case <-a.quit:
			for id, h := range sessions {
				h.session.Shutdown()
				h.closeConn()
				close(h.outbox)
				delete(sessions, id)
			}
			a.repo.DropAllVouchers()
			return

		case ev := <-a.events:
			switch ev.kind {
			case eventExpireVouchers:
				a.repo.ExpireVouchers(time.Now())

			case eventNewSession:
				sessions[ev.sessionID] = sessionHandle{
					session:   daemon.NewSession(ev.sessionID, a.repo, a.voucherTTL, a.segment),
					outbox:    ev.outbox,
					closeConn: ev.closeConn,
				}

			case eventSessionClosed:
				if h, ok := sessions[ev.sessionID]; ok {
					h.session.Shutdown()
					close(h.outbox)
					delete(sessions, ev.sessionID)
				}

			case eventRequestBatch:
				h, ok := sessions[ev.sessionID]
				if !ok {
					continue
				}
				sessionLog := a.log.Session(ev.sessionID)
				resp, quit := reqhandler.Handle(h.session, ev.batch, time.Now(), func(b wire.ResponseBatch) {
					select {
					case h.outbox <- b:
					default:
						sessionLog.Error().Msg("dropping deferred response: outbox full")
					}
				})
				a.repo.RehashIfAppropriate(true)
				if len(resp.Responses) > 0 {
					select {
					case h.outbox <- resp:
					default:
						sessionLog.Error().Msg("dropping response batch: outbox full")
					}
				}
				if quit {
					h.closeConn()
				}
			}
		}
	}
}
