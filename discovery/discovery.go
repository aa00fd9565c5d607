// Package discovery finds the opponent on the local network with UDP
// broadcasts on the shared game port.
//
// Both instances broadcast their own address. The master (the instance that
// initiated the match) takes the first address that is not its own; it then
// broadcasts "<slave>@StartGame", which is the only payload a slave accepts.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/ipv4"

	"netpong/frame"
	"netpong/metrics"
)

const (
	maxDatagram = 1024

	// pollInterval bounds how long a blocked read ignores cancellation.
	pollInterval = 100 * time.Millisecond
)

// Verdict is the outcome of inspecting one datagram.
type Verdict string

const (
	Accepted  Verdict = "accepted"
	Self      Verdict = "self"
	Malformed Verdict = "malformed"
	Ignored   Verdict = "ignored"
)

// ErrNoInterface is returned by LocalAddr when no usable IPv4 address exists.
var ErrNoInterface = errors.New("discovery: no non-loopback IPv4 interface")

// Channel broadcasts and listens on one UDP port.
type Channel struct {
	// Port is the shared discovery port.
	Port int
	// BroadcastAddr is where announcements are sent.
	BroadcastAddr netip.Addr
	// Self is this instance's address, used to suppress our own broadcasts.
	Self netip.Addr
	// Interval between broadcasts; zero sends back to back.
	Interval time.Duration
	// TTL of outgoing datagrams; zero leaves the system default.
	TTL int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// New returns a Channel broadcasting to the limited broadcast address.
func New(self netip.Addr, port int) *Channel {
	return &Channel{
		Port:          port,
		BroadcastAddr: netip.AddrFrom4([4]byte{255, 255, 255, 255}),
		Self:          self,
		TTL:           1,
		Logger:        slog.Default().With("component", "discovery"),
	}
}

func (c *Channel) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "discovery")
	}
	return c.Logger
}

// StartGamePayload is the announcement a master sends to pick its slave.
func StartGamePayload(target netip.Addr) string {
	return frame.Encode(target.String(), frame.CmdStartGame)
}

// Broadcast sends payload to the broadcast address until ctx is done.
func (c *Channel) Broadcast(ctx context.Context, payload string) error {
	log := c.logger().With("payload", payload)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("discovery: open broadcast socket: %w", err)
	}
	defer conn.Close()

	if c.TTL > 0 {
		if err := ipv4.NewPacketConn(conn).SetTTL(c.TTL); err != nil {
			log.Warn("cannot set broadcast TTL", "ttl", c.TTL, "error", err)
		}
	}

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(c.BroadcastAddr, uint16(c.Port)))
	msg := []byte(payload)

	log.Info("broadcasting", "to", dst.String())
	var sent int
	failing := false
	for {
		select {
		case <-ctx.Done():
			log.Info("stopped broadcasting", "sent", sent)
			return nil
		default:
		}

		if _, err := conn.WriteToUDP(msg, dst); err != nil {
			if !failing {
				log.Warn("broadcast failed", "error", err)
				failing = true
			}
		} else {
			failing = false
			sent++
		}

		if c.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.Interval):
			}
		}
	}
}

// Listen receives announcements until one qualifies or ctx is done. An
// initiator accepts the first parsable address that is not its own; any
// other instance waits for "<Self>@StartGame" and returns its sender.
func (c *Channel) Listen(ctx context.Context, initiator bool) (netip.Addr, error) {
	log := c.logger().With("initiator", initiator)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.Port})
	if err != nil {
		return netip.Addr{}, fmt.Errorf("discovery: listen on %d: %w", c.Port, err)
	}
	defer conn.Close()

	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
		log.Debug("destination control messages unavailable", "error", err)
	}

	log.Info("listening for announcements", "port", c.Port)
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			log.Info("stopped listening")
			return netip.Addr{}, err
		}

		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return netip.Addr{}, fmt.Errorf("discovery: set deadline: %w", err)
		}
		n, cm, src, err := p.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Warn("read failed", "error", err)
			continue
		}

		from := addrOf(src)
		payload := string(buf[:n])
		addr, verdict := Evaluate(payload, from, c.Self, initiator)
		c.Metrics.DiscoveryDatagram(string(verdict))

		attrs := []any{"payload", payload, "from", from, "verdict", verdict}
		if cm != nil && cm.Dst != nil {
			attrs = append(attrs, "dst", cm.Dst.String())
		}

		switch verdict {
		case Accepted:
			log.Info("found opponent", append(attrs, "opponent", addr)...)
			return addr, nil
		case Malformed:
			log.Warn("announcement is not an address", attrs...)
		default:
			log.Debug("announcement skipped", attrs...)
		}
	}
}

// Evaluate decides what a received payload means for this instance.
func Evaluate(payload string, from, self netip.Addr, initiator bool) (netip.Addr, Verdict) {
	if !initiator {
		if self.IsValid() && payload == StartGamePayload(self) && from.IsValid() {
			return from, Accepted
		}
		return netip.Addr{}, Ignored
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(payload))
	if err != nil {
		return netip.Addr{}, Malformed
	}
	addr = addr.Unmap()
	if addr == self {
		return netip.Addr{}, Self
	}
	return addr, Accepted
}

// Discover broadcasts payload while listening, and stops both as soon as
// the listener resolves an opponent.
func (c *Channel) Discover(ctx context.Context, payload string, initiator bool) (netip.Addr, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Broadcast(ctx, payload)
	}()

	addr, err := c.Listen(ctx, initiator)
	cancel()
	if berr := <-done; berr != nil && err == nil {
		c.logger().Warn("broadcaster exited with error", "error", berr)
	}
	return addr, err
}

func addrOf(a net.Addr) netip.Addr {
	if ua, ok := a.(*net.UDPAddr); ok {
		return ua.AddrPort().Addr().Unmap()
	}
	return netip.Addr{}
}

// LocalAddr returns the first IPv4 address of an up, non-loopback interface.
func LocalAddr() (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("discovery: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok && ipnet.IP.To4() != nil {
				return ip, nil
			}
		}
	}
	return netip.Addr{}, ErrNoInterface
}
