// Package rendezvous sends one-shot TCP requests to the directory host and
// to the opponent's peer link.
//
// Every call opens a connection, writes the payload, half-closes the write
// side so the far end sees end of stream, optionally reads the reply until
// the far end closes, and closes the connection.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"netpong/frame"
	"netpong/match"
	"netpong/metrics"
)

const tracerName = "netpong/rendezvous"

// ErrNoReply is returned when a reply was expected but the far end closed
// without writing anything.
var ErrNoReply = errors.New("rendezvous: no reply")

// Client performs blocking request/reply round trips.
type Client struct {
	// Timeout applies to connect, send and receive. Zero blocks forever.
	Timeout time.Duration
	// State receives the effects of recognised replies. May be nil.
	State *match.State

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	tracer trace.Tracer
}

// NewClient returns a client applying reply effects to state.
func NewClient(state *match.State, timeout time.Duration) *Client {
	return &Client{
		Timeout: timeout,
		State:   state,
		Logger:  slog.Default().With("component", "rendezvous"),
		tracer:  otel.Tracer(tracerName),
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "rendezvous")
	}
	return c.Logger
}

func (c *Client) startSpan(ctx context.Context, addr netip.AddrPort, command string) (context.Context, trace.Span) {
	tr := c.tracer
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}
	return tr.Start(ctx, "rendezvous.request", trace.WithAttributes(
		attribute.String("netpong.addr", addr.String()),
		attribute.String("netpong.command", command),
	))
}

// Request sends payload to addr. When expectReply is set it reads the whole
// reply, applies its effects and returns it; otherwise it returns (nil, nil)
// after a successful send.
func (c *Client) Request(ctx context.Context, addr netip.AddrPort, payload string, expectReply bool) (msg frame.Message, err error) {
	command := commandOf(payload)
	log := c.logger().With("addr", addr.String(), "command", command)

	ctx, span := c.startSpan(ctx, addr, command)
	result := "ok"
	defer func() {
		c.Metrics.RendezvousRequest(command, result)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
	}()

	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		result = "dial_error"
		log.Warn("connect failed", "error", err)
		return nil, fmt.Errorf("rendezvous: connect %s: %w", addr, err)
	}
	defer conn.Close()

	// Unblock reads on cancellation even when no timeout is configured.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if c.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			result = "deadline_error"
			return nil, fmt.Errorf("rendezvous: set deadline: %w", err)
		}
	}

	if _, err := io.WriteString(conn, payload); err != nil {
		result = "write_error"
		log.Warn("send failed", "error", err)
		return nil, fmt.Errorf("rendezvous: send to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			log.Debug("half-close failed", "error", err)
		}
	}
	log.Debug("sent", "payload", payload)

	if !expectReply {
		return nil, nil
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		result = "read_error"
		log.Warn("failed to read reply", "error", err)
		return nil, fmt.Errorf("rendezvous: read reply from %s: %w", addr, err)
	}
	if len(raw) == 0 {
		result = "no_reply"
		log.Warn("empty reply")
		return nil, ErrNoReply
	}

	reply := string(raw)
	msg, err = frame.Parse(reply)
	if err != nil {
		result = "bad_reply"
		log.Warn("unrecognised reply", "reply", reply, "error", err)
		return nil, fmt.Errorf("rendezvous: reply from %s: %w", addr, err)
	}

	log.Debug("reply", "reply", reply)
	c.apply(msg)
	return msg, nil
}

// apply records the effect of a directory reply on the match state.
func (c *Client) apply(msg frame.Message) {
	log := c.logger()
	switch m := msg.(type) {
	case frame.ServerSet:
		log.Info("directory host recorded the master/slave pairing")
		c.markConnected()
	case frame.StartGameSlave:
		log.Info("master registered with the directory host, game starting")
		c.markConnected()
	case frame.MasterPeerNotConnected:
		log.Info("master peer not connected to the directory host yet")
	case frame.Highscores:
		log.Info("highscores received", "found", m.Found)
		if c.State != nil {
			c.State.SetHighscores(m.Table)
		}
	default:
		log.Debug("reply has no effect", "command", msg.Command())
	}
}

func (c *Client) markConnected() {
	if c.State != nil {
		c.State.MarkConnected()
	}
}

// Send delivers msg without waiting for a reply.
func (c *Client) Send(ctx context.Context, addr netip.AddrPort, msg frame.Message) error {
	_, err := c.Request(ctx, addr, msg.Encode(), false)
	return err
}

// Ask delivers msg and returns the reply.
func (c *Client) Ask(ctx context.Context, addr netip.AddrPort, msg frame.Message) (frame.Message, error) {
	return c.Request(ctx, addr, msg.Encode(), true)
}

// RegisterMaster records the pairing master -> slave with the directory host.
func (c *Client) RegisterMaster(ctx context.Context, server netip.AddrPort, master, slave netip.Addr) (frame.Message, error) {
	return c.Ask(ctx, server, frame.MasterPeer{Master: master, Peer: slave})
}

// AnnounceConnected is the slave's poll of the directory host.
func (c *Client) AnnounceConnected(ctx context.Context, server netip.AddrPort) (frame.Message, error) {
	return c.Ask(ctx, server, frame.Connected{})
}

// RetrieveHighscores fetches and caches the shared table.
func (c *Client) RetrieveHighscores(ctx context.Context, server netip.AddrPort) (frame.HighscoreTable, error) {
	msg, err := c.Ask(ctx, server, frame.RetrieveHighScore{})
	if err != nil {
		return frame.HighscoreTable{}, err
	}
	hs, ok := msg.(frame.Highscores)
	if !ok {
		return frame.HighscoreTable{}, fmt.Errorf("rendezvous: unexpected reply %q to %s", msg.Command(), frame.CmdRetrieveHighScore)
	}
	return hs.Table, nil
}

// UpdateHighscores replaces the directory host's table.
func (c *Client) UpdateHighscores(ctx context.Context, server netip.AddrPort, t frame.HighscoreTable) error {
	_, err := c.Ask(ctx, server, frame.UpdateHighScore{Table: t})
	return err
}

func commandOf(payload string) string {
	if msg, err := frame.Parse(payload); err == nil {
		return msg.Command()
	}
	return "unknown"
}

// PushLocation tells the opponent where our paddle is.
func (c *Client) PushLocation(ctx context.Context, opponent netip.AddrPort, x, y float64) error {
	return c.Send(ctx, opponent, frame.LocationSet{X: x, Y: y})
}

// PushReset starts the opponent's next point with ball velocity (vx, vy).
func (c *Client) PushReset(ctx context.Context, opponent netip.AddrPort, vx, vy float64) error {
	return c.Send(ctx, opponent, frame.GameReset{VX: vx, VY: vy})
}
