// Package peer runs the peer link: a TCP listener that accepts one
// connection per inbound message from the opponent and applies it to the
// running game.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"netpong/frame"
	"netpong/match"
	"netpong/metrics"
)

const (
	tracerName = "netpong/peer"

	// maxMessage caps how much of one connection is read.
	maxMessage = 4096
)

// Server accepts peer link connections. Connections are not pooled: each
// one carries a single message and is handled on its own goroutine.
type Server struct {
	// Addr is the TCP listen address, ":43" style.
	Addr string
	// Timeout bounds reading one message. Zero waits for the sender.
	Timeout time.Duration

	State *match.State
	Game  match.Game

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	tracer trace.Tracer
}

// NewServer returns a server applying messages to g on behalf of state.
func NewServer(addr string, state *match.State, g match.Game, timeout time.Duration) *Server {
	return &Server{
		Addr:    addr,
		Timeout: timeout,
		State:   state,
		Game:    g,
		Logger:  slog.Default().With("component", "peer"),
		tracer:  otel.Tracer(tracerName),
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "peer")
	}
	return s.Logger
}

// ListenAndServe listens on s.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		s.logger().Error("cannot start peer link", "addr", s.Addr, "error", err)
		return fmt.Errorf("peer: listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// waits for in-flight handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.logger()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info("listening for peer connections", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("peer link stopped")
				return nil
			}
			log.Warn("error accepting peer connection", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	from := conn.RemoteAddr().String()
	log := s.logger().With("from", from)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if s.Timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.Timeout)); err != nil {
			log.Warn("cannot set read deadline", "error", err)
		}
	}

	raw, err := io.ReadAll(io.LimitReader(conn, maxMessage))
	if err != nil {
		s.Metrics.PeerMessage("read_error")
		log.Warn("failed to read peer message", "error", err)
		return
	}

	payload := string(raw)
	msg, err := frame.Parse(payload)
	if err != nil {
		s.Metrics.PeerMessage("unrecognised")
		log.Warn("unrecognised peer message", "payload", payload, "error", err)
		return
	}
	s.Dispatch(ctx, msg)
}

// Dispatch applies one decoded message to the game and match state.
func (s *Server) Dispatch(ctx context.Context, msg frame.Message) {
	tr := s.tracer
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}
	_, span := tr.Start(ctx, "peer.dispatch", trace.WithAttributes(
		attribute.String("netpong.command", msg.Command()),
	))
	defer span.End()

	log := s.logger()
	role := s.State.Role()

	switch m := msg.(type) {
	case frame.LocationSet:
		paddle := match.OpponentPaddle(role)
		s.Game.SetPaddlePosition(paddle, m.X, m.Y)
		s.Metrics.PeerMessage("location")
		log.Debug("opponent paddle moved", "paddle", paddle, "x", m.X, "y", m.Y)

	case frame.GameReset:
		if role != match.Slave {
			s.Metrics.PeerMessage("reset_ignored")
			log.Debug("ignoring GameReset", "role", role)
			return
		}
		s.Game.Reset()
		s.Game.SetBallVelocity(m.VX, m.VY)
		s.Metrics.PeerMessage("reset")
		log.Info("game reset by master", "vx", m.VX, "vy", m.VY)

	case frame.SyncGame:
		s.Metrics.PeerMessage("sync")
		log.Info("SyncGame received")

	case frame.Connected:
		s.State.MarkPeerAck()
		s.State.MarkConnected()
		s.Metrics.PeerMessage("connected")
		log.Info("opponent connected")

	default:
		s.Metrics.PeerMessage("unexpected")
		log.Warn("message not valid on the peer link", "command", msg.Command())
	}
}
