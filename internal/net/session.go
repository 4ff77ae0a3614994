package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session represents a single client connection. Websocket I/O runs in
// dedicated goroutines; streaming state is accessed only from the tick loop.
type Session struct {
	ID   uint64
	conn *websocket.Conn

	InQueue  chan ClientMessage // tick loop reads messages from here
	OutQueue chan ServerMessage // writer goroutine reads from here

	IP string

	outBuf []ServerMessage // buffered frames, flushed once per tick (tick loop only)

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn *websocket.Conn, id uint64, inSize, outSize int, readTimeout, writeTimeout time.Duration, log *zap.Logger) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan ClientMessage, inSize),
		OutQueue:     make(chan ServerMessage, outSize),
		IP:           conn.RemoteAddr().String(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("session", id)),
	}
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a frame for sending. Nothing hits the socket until
// FlushOutput runs at the end of the tick.
// Called only from the tick loop goroutine — no lock needed on outBuf.
func (s *Session) Send(msg ServerMessage) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, msg)
}

// FlushOutput drains the output buffer to OutQueue for the writer goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected
// (backpressure against clients that stop reading).
func (s *Session) FlushOutput() {
	for _, msg := range s.outBuf {
		select {
		case s.OutQueue <- msg:
		default:
			s.log.Warn("out queue full, dropping slow client")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads JSON frames from the websocket and pushes them onto
// InQueue for the tick loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		// Viewport updates supersede each other, so a full queue keeps only
		// the freshest state: drop the oldest and retry.
		select {
		case s.InQueue <- msg:
		default:
			select {
			case <-s.InQueue:
			default:
			}
			select {
			case s.InQueue <- msg:
			case <-s.closeCh:
				return
			}
		}
	}
}

// writeLoop reads frames from OutQueue and writes them to the websocket.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case msg := <-s.OutQueue:
			if s.writeTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
