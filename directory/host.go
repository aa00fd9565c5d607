// Package directory is the rendezvous host: it pairs a master with its slave
// and keeps the shared highscore table.
//
// Requests use the peer link framing: one connection per request, the
// request ends when the client half-closes, the reply ends when the host
// closes. Requests framed as CRLF lines are accepted too.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"netpong/frame"
	"netpong/metrics"
)

const maxRequest = 4096

// Host serves directory requests over TCP.
type Host struct {
	// Addr is the TCP listen address.
	Addr string
	// Timeout bounds reading a request. Zero waits for the client.
	Timeout time.Duration

	Store    Store
	Registry *Registry
	Feed     *Feed

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewHost returns a host keeping highscores in store.
func NewHost(addr string, store Store) *Host {
	return &Host{
		Addr:     addr,
		Store:    store,
		Registry: NewRegistry(),
		Feed:     NewFeed(),
		Logger:   slog.Default().With("component", "directory"),
	}
}

func (h *Host) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().With("component", "directory")
	}
	return h.Logger
}

// ListenAndServe listens on h.Addr and serves until ctx is done.
func (h *Host) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.Addr)
	if err != nil {
		h.logger().Error("cannot start directory host", "addr", h.Addr, "error", err)
		return fmt.Errorf("directory: listen on %s: %w", h.Addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve accepts requests on ln until ctx is done.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	log := h.logger()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info("directory host is running", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("directory host stopped")
				return nil
			}
			log.Warn("connection error", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handleConnection(ctx, conn)
		}()
	}
}

func (h *Host) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := remoteAddr(conn)
	log := h.logger().With("from", remote)

	if h.Timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.Timeout)); err != nil {
			log.Warn("cannot set read deadline", "error", err)
		}
	}
	raw, err := io.ReadAll(io.LimitReader(conn, maxRequest))
	if err != nil {
		log.Warn("invalid request", "error", err)
		return
	}

	reply, ok := h.Handle(ctx, string(raw), remote)
	if !ok {
		return
	}
	if h.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.Timeout))
	}
	if _, err := io.WriteString(conn, reply); err != nil {
		log.Warn("failed to write reply", "error", err)
	}
}

// Handle answers one request from remote. ok is false when the request is
// not understood and the connection should be closed without a reply.
func (h *Host) Handle(ctx context.Context, payload string, remote netip.Addr) (reply string, ok bool) {
	log := h.logger().With("from", remote)

	lines := frame.DecodeLines(payload)
	if len(lines) == 0 {
		h.Metrics.DirectoryRequest("empty")
		log.Warn("empty request")
		return "", false
	}
	req := lines[0]

	msg, err := frame.Parse(req)
	if err != nil {
		h.Metrics.DirectoryRequest("unknown")
		log.Warn("unrecognised request", "request", req, "error", err)
		return "", false
	}
	h.Metrics.DirectoryRequest(msg.Command())

	switch m := msg.(type) {
	case frame.MasterPeer:
		p := h.Registry.Register(m.Master, m.Peer)
		log.Info("registered pairing", "id", p.ID.String(), "master", m.Master, "slave", m.Peer)
		return frame.ServerSet{}.Encode(), true

	case frame.Connected:
		if p, found := h.Registry.ForSlave(remote); found {
			log.Info("slave connected", "id", p.ID.String(), "master", p.Master)
			return frame.StartGameSlave{}.Encode(), true
		}
		log.Debug("slave polled before its master registered")
		return frame.MasterPeerNotConnected{}.Encode(), true

	case frame.RetrieveHighScore:
		t, found, err := h.Store.Load(ctx)
		if err != nil {
			log.Error("cannot load highscores", "error", err)
			found = false
		}
		if !found {
			t = frame.DefaultHighscores()
			if err := h.Store.Save(ctx, t); err != nil {
				log.Error("cannot store default highscores", "error", err)
			}
		}
		return frame.Highscores{Found: found, Table: t}.Encode(), true

	case frame.UpdateHighScore:
		t := m.Table
		t.Sort()
		if err := h.Store.Save(ctx, t); err != nil {
			log.Error("cannot store highscores", "error", err)
		}
		h.Feed.Publish(t)
		log.Info("highscores updated", "lowest", t.Lowest())
		return frame.Highscores{Found: true, Table: t}.Encode(), true

	default:
		log.Warn("request not valid for the directory host", "command", msg.Command())
		return "", false
	}
}

func remoteAddr(conn net.Conn) netip.Addr {
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return ta.AddrPort().Addr().Unmap()
	}
	return netip.Addr{}
}
