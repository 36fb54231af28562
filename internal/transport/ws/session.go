package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	textMessage = 1
	writeWait   = 10 * time.Second
)

type Role string

const (
	RoleBot       Role = "bot"
	RoleDashboard Role = "dashboard"
)

// Conn is the subset of a websocket connection a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live transport. Outbound frames pass through a bounded FIFO
// queue drained by a single writer goroutine.
type Session struct {
	id       string
	role     Role
	remoteIP string
	conn     Conn
	limiter  *rate.Limiter

	out        chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	lastSeen   atomic.Int64
}

func newSession(id string, role Role, remoteIP string, conn Conn, queue int, limiter *rate.Limiter) *Session {
	if queue <= 0 {
		queue = 1
	}
	s := &Session{
		id:         id,
		role:       role,
		remoteIP:   remoteIP,
		conn:       conn,
		limiter:    limiter,
		out:        make(chan []byte, queue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.touch(time.Now())
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Role() Role       { return s.role }
func (s *Session) RemoteIP() string { return s.remoteIP }

// enqueue never blocks. It fails when the session is closed or its queue is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(textMessage, frame); err != nil {
				s.Close()
				return
			}
		}
	}
}

// Close stops the writer and closes the transport, which also ends the read loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *Session) allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}
