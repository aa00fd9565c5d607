package discovery_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"netpong/discovery"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// freePort asks the kernel for an unused UDP port.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// sendUntil writes payloads to 127.0.0.1:port until ctx is done.
func sendUntil(ctx context.Context, t *testing.T, port int, payloads ...string) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Errorf("dial: %v", err)
		return
	}
	defer conn.Close()
	for {
		for _, p := range payloads {
			conn.Write([]byte(p))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEvaluateInitiator(t *testing.T) {
	self := netip.MustParseAddr("192.168.0.101")

	if _, v := discovery.Evaluate("192.168.0.101", loopback, self, true); v != discovery.Self {
		t.Errorf("own address verdict = %v, want self", v)
	}
	if _, v := discovery.Evaluate("hello", loopback, self, true); v != discovery.Malformed {
		t.Errorf("garbage verdict = %v, want malformed", v)
	}
	if _, v := discovery.Evaluate("192.168.0.102@StartGame", loopback, self, true); v != discovery.Malformed {
		t.Errorf("StartGame verdict for initiator = %v, want malformed", v)
	}
	addr, v := discovery.Evaluate("192.168.0.102", loopback, self, true)
	if v != discovery.Accepted || addr != netip.MustParseAddr("192.168.0.102") {
		t.Errorf("Evaluate = %v, %v", addr, v)
	}
}

func TestEvaluateSlave(t *testing.T) {
	self := netip.MustParseAddr("192.168.0.102")
	master := netip.MustParseAddr("192.168.0.101")

	if _, v := discovery.Evaluate("192.168.0.101", master, self, false); v != discovery.Ignored {
		t.Errorf("plain address verdict = %v, want ignored", v)
	}
	if _, v := discovery.Evaluate("192.168.0.103@StartGame", master, self, false); v != discovery.Ignored {
		t.Errorf("StartGame for someone else verdict = %v, want ignored", v)
	}
	addr, v := discovery.Evaluate("192.168.0.102@StartGame", master, self, false)
	if v != discovery.Accepted || addr != master {
		t.Errorf("Evaluate = %v, %v; want %v accepted", addr, v, master)
	}
}

func TestListenSkipsOwnBroadcast(t *testing.T) {
	port := freePort(t)
	ch := discovery.New(loopback, port)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	go sendUntil(ctx, t, port, "127.0.0.1", "not-an-address")

	_, err := ch.Listen(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Listen error = %v, want deadline exceeded (own broadcast must not resolve)", err)
	}
}

func TestListenInitiatorFindsOpponent(t *testing.T) {
	port := freePort(t)
	ch := discovery.New(loopback, port)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go sendUntil(ctx, t, port, "127.0.0.1", "192.168.0.102")

	addr, err := ch.Listen(ctx, true)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if addr != netip.MustParseAddr("192.168.0.102") {
		t.Errorf("opponent = %v", addr)
	}
}

func TestListenSlaveWaitsForStartGame(t *testing.T) {
	port := freePort(t)
	self := netip.MustParseAddr("192.168.0.102")
	ch := discovery.New(self, port)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go sendUntil(ctx, t, port, "192.168.0.101", discovery.StartGamePayload(self))

	addr, err := ch.Listen(ctx, false)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if addr != loopback {
		t.Errorf("master = %v, want sender %v", addr, loopback)
	}
}

func TestDiscoverStopsBroadcaster(t *testing.T) {
	port := freePort(t)
	ch := discovery.New(netip.MustParseAddr("192.168.0.101"), port)
	ch.BroadcastAddr = loopback
	ch.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The listener hears its own broadcaster; the payload is a foreign
	// address so it resolves.
	addr, err := ch.Discover(ctx, "10.1.2.3", true)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if addr != netip.MustParseAddr("10.1.2.3") {
		t.Errorf("Discover = %v", addr)
	}
}

func TestBroadcastReturnsOnCancel(t *testing.T) {
	ch := discovery.New(loopback, freePort(t))
	ch.BroadcastAddr = loopback

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Broadcast(ctx, "127.0.0.1") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Broadcast: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast did not stop")
	}
}

func TestStartGamePayload(t *testing.T) {
	if got := discovery.StartGamePayload(netip.MustParseAddr("10.0.0.7")); got != "10.0.0.7@StartGame" {
		t.Errorf("StartGamePayload = %q", got)
	}
}
