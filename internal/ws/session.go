package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/protocol"
)

// backendTimeout bounds each call a session makes into storage or Redis.
const backendTimeout = 10 * time.Second

var errFrameTooLarge = errors.New("ws: frame exceeds size limit")

type state int32

const (
	stateAwaitingAuth state = iota
	stateAuthenticated
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitingAuth:
		return "awaiting_auth"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// session drives one connection through AwaitingAuth, Authenticated and
// Closed. Once authenticated it runs two loops: the reader on the calling
// goroutine and a writer draining the user's presence channel.
type session struct {
	server *Server
	conn   *Connection
	state  atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	userID  string
	channel *presence.Channel

	writerDone chan struct{}
	closeOnce  sync.Once
}

func newSession(s *Server, c *Connection) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		server: s,
		conn:   c,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (ss *session) current() state {
	return state(ss.state.Load())
}

// run blocks until the connection is closed.
func (ss *session) run() {
	defer func() {
		ss.close()
		if ss.writerDone != nil {
			<-ss.writerDone
		}
	}()

	if !ss.authenticate() {
		return
	}

	ss.state.Store(int32(stateAuthenticated))
	log.Printf("ws: authenticated conn=%s user=%s", ss.conn.ID, ss.userID)

	ss.writerDone = make(chan struct{})
	go ss.writeLoop()
	ss.readLoop()
}

// ---------------------------------------------------------------------------
// AwaitingAuth
// ---------------------------------------------------------------------------

// authenticate waits for the Authenticate frame, resolves its token,
// registers the user's channel and writes Ready. Events queued on the channel
// meanwhile are written after Ready by the writer. On failure the client has
// already been told why.
func (ss *session) authenticate() bool {
	c := ss.conn
	if ss.server.config.AuthTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(ss.server.config.AuthTimeout))
	}

	op, data, err := ss.readFrame()
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			ss.rejectAuth(protocol.ReasonAuthTimeout, "timeout")
		case errors.Is(err, errFrameTooLarge):
			ss.rejectAuth(protocol.ReasonInvalidJSON, "malformed")
		}
		// Anything else means the client went away before authenticating.
		return false
	}
	_ = c.Conn.SetReadDeadline(time.Time{})

	if op != ws.OpText {
		ss.rejectAuth(protocol.ReasonInvalidJSON, "malformed")
		return false
	}

	token, err := protocol.ParseAuthenticate(data)
	switch {
	case errors.Is(err, protocol.ErrWrongAuthType):
		ss.rejectAuth(protocol.ReasonInvalidAuthType, "wrong_type")
		return false
	case err != nil:
		ss.rejectAuth(protocol.ReasonInvalidJSON, "malformed")
		return false
	}

	ctx, cancel := context.WithTimeout(ss.ctx, backendTimeout)
	defer cancel()

	identity, err := ss.server.auth.ValidateToken(ctx, token)
	if err != nil {
		if apierror.IsKind(err, apierror.KindUnauthorized) {
			ss.rejectAuth(protocol.ReasonInvalidToken, "unauthorized")
		} else {
			log.Printf("ws: validate token conn=%s: %v", c.ID, err)
			ss.rejectAuth(protocol.ReasonInternal, "internal")
		}
		return false
	}

	ready, ch, err := ss.server.backend.Connect(ctx, identity)
	if err != nil {
		log.Printf("ws: load ready conn=%s user=%s: %v", c.ID, identity.UserID, err)
		ss.rejectAuth(protocol.ReasonInternal, "internal")
		return false
	}
	// From here close() owns the channel.
	ss.userID = ready.ID
	ss.channel = ch
	c.setUserID(ready.ID)

	payload, err := protocol.Ready(*ready)
	if err != nil {
		log.Printf("ws: encode ready conn=%s user=%s: %v", c.ID, identity.UserID, err)
		ss.rejectAuth(protocol.ReasonInternal, "internal")
		return false
	}
	if err := c.WriteMessage(payload); err != nil {
		log.Printf("ws: write ready conn=%s user=%s: %v", c.ID, identity.UserID, err)
		return false
	}
	return true
}

// rejectAuth tells the client why authentication failed and closes.
func (ss *session) rejectAuth(reason, label string) {
	metrics.AuthFailures.WithLabelValues(label).Inc()
	log.Printf("ws: auth failed conn=%s reason=%s", ss.conn.ID, label)

	if err := ss.conn.WriteMessage(protocol.AuthError(reason)); err != nil {
		return
	}
	_ = ss.conn.WriteClose(ws.StatusPolicyViolation, "")
}

// ---------------------------------------------------------------------------
// Authenticated
// ---------------------------------------------------------------------------

// readLoop handles client events until the connection fails or closes.
func (ss *session) readLoop() {
	for {
		op, data, err := ss.readFrame()
		if err != nil {
			if !isClosure(err) {
				log.Printf("ws: read error conn=%s user=%s: %v", ss.conn.ID, ss.userID, err)
			}
			return
		}
		ss.handle(op, data)
	}
}

func (ss *session) handle(op ws.OpCode, data []byte) {
	if op != ws.OpText {
		ss.reply(protocol.InbandError(protocol.InbandInvalidJSON))
		return
	}
	ev, err := protocol.ParseClientEvent(data)
	if err != nil {
		ss.reply(protocol.InbandError(protocol.InbandInvalidJSON))
		return
	}

	switch ev.Kind {
	case protocol.EventChatStartTyping, protocol.EventChatEndTyping:
		// Chats outside the cached routing are ignored silently.
		ss.server.backend.Typing(ss.userID, ev.Kind, ev.ChatID)
	default:
		ss.reply(protocol.InbandError(protocol.InbandUnknownEvent))
	}
}

// reply queues an event for this connection only, behind anything already
// pending on the user's channel.
func (ss *session) reply(event []byte) {
	_ = ss.channel.Send(event)
}

// writeLoop drains the presence channel onto the socket.
func (ss *session) writeLoop() {
	defer close(ss.writerDone)
	for {
		event, err := ss.channel.Receive(ss.ctx)
		if err != nil {
			return
		}
		if err := ss.conn.WriteMessage(event); err != nil {
			log.Printf("ws: write error conn=%s user=%s: %v", ss.conn.ID, ss.userID, err)
			// Closing the socket ends the reader, which runs cleanup.
			ss.server.RemoveConnection(ss.conn)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Framing
// ---------------------------------------------------------------------------

// readFrame returns the next data message, answering ping and close control
// frames along the way.
func (ss *session) readFrame() (ws.OpCode, []byte, error) {
	c := ss.conn
	limit := ss.server.config.MaxFrameSize
	control := wsutil.ControlFrameHandler(c, ws.StateServerSide)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return 0, nil, err
		}
		// Any frame proves the connection is alive.
		c.Touch()

		if header.OpCode.IsControl() {
			if err := control(header, reader); err != nil {
				return 0, nil, err
			}
			continue
		}

		if limit > 0 && header.Length > limit {
			return 0, nil, errFrameTooLarge
		}
		src := io.Reader(reader)
		if limit > 0 {
			src = io.LimitReader(reader, limit+1)
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return 0, nil, err
		}
		if limit > 0 && int64(len(data)) > limit {
			return 0, nil, errFrameTooLarge
		}
		return header.OpCode, data, nil
	}
}

// ---------------------------------------------------------------------------
// Closed
// ---------------------------------------------------------------------------

// close runs disconnect cleanup exactly once: the socket is dropped, and an
// authenticated user's channel is removed from presence.
func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.state.Store(int32(stateClosed))
		ss.cancel()
		ss.server.RemoveConnection(ss.conn)

		if ss.channel == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		ss.server.backend.UserOffline(ctx, ss.userID, ss.channel)
	})
}

func isClosure(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
