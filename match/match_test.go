package match_test

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"netpong/frame"
	"netpong/match"
)

var (
	self  = netip.MustParseAddr("192.168.0.101")
	other = netip.MustParseAddrPort("192.168.0.102:43")
)

func TestRoleAssignedOnce(t *testing.T) {
	s := match.NewState(self)
	if err := s.SetRole(match.Master); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := s.SetRole(match.Slave); !errors.Is(err, match.ErrRoleAssigned) {
		t.Errorf("second SetRole error = %v, want ErrRoleAssigned", err)
	}
	if !s.IsMaster() {
		t.Error("role changed after failed reassignment")
	}
	if err := match.NewState(self).SetRole(match.Unassigned); err == nil {
		t.Error("assigning Unassigned should fail")
	}
}

func TestPeerNeverReassigned(t *testing.T) {
	s := match.NewState(self)

	if err := s.SetPeer(netip.AddrPortFrom(self, 43)); !errors.Is(err, match.ErrSelfPeer) {
		t.Errorf("SetPeer(self) error = %v, want ErrSelfPeer", err)
	}
	if err := s.SetPeer(netip.AddrPort{}); !errors.Is(err, match.ErrInvalidPeer) {
		t.Errorf("SetPeer(zero) error = %v, want ErrInvalidPeer", err)
	}
	if _, ok := s.Peer(); ok {
		t.Fatal("peer set after rejected assignments")
	}

	if err := s.SetPeer(other); err != nil {
		t.Fatalf("SetPeer: %v", err)
	}
	if err := s.SetPeer(netip.MustParseAddrPort("192.168.0.103:43")); !errors.Is(err, match.ErrPeerAssigned) {
		t.Errorf("second SetPeer error = %v, want ErrPeerAssigned", err)
	}
	if p, _ := s.Peer(); p != other {
		t.Errorf("Peer = %v, want %v", p, other)
	}
}

func TestConnectionStateOnlyAdvances(t *testing.T) {
	s := match.NewState(self)
	for _, next := range []match.ConnectionState{match.Registering, match.Registering, match.WaitingForPeerAck, match.Connected} {
		if err := s.Advance(next); err != nil {
			t.Fatalf("Advance(%v): %v", next, err)
		}
	}
	if err := s.Advance(match.Discovering); !errors.Is(err, match.ErrStateRegression) {
		t.Errorf("Advance backwards error = %v, want ErrStateRegression", err)
	}
	if got := s.ConnectionState(); got != match.Connected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestMarkConnectedIsIdempotent(t *testing.T) {
	s := match.NewState(self)
	if s.Connected() {
		t.Fatal("new state already connected")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MarkConnected()
		}()
	}
	wg.Wait()

	select {
	case <-s.ConnectedC():
	case <-time.After(time.Second):
		t.Fatal("ConnectedC not closed")
	}
	if !s.Connected() {
		t.Error("Connected() = false after MarkConnected")
	}
}

func TestPeerAckIsSeparateFromConnected(t *testing.T) {
	s := match.NewState(self)
	s.MarkConnected()
	select {
	case <-s.PeerAckC():
		t.Fatal("PeerAckC closed by MarkConnected")
	default:
	}

	s.MarkPeerAck()
	s.MarkPeerAck()
	select {
	case <-s.PeerAckC():
	case <-time.After(time.Second):
		t.Fatal("PeerAckC not closed")
	}
}

func TestHighscoresCached(t *testing.T) {
	s := match.NewState(self)
	if s.Highscores() != (frame.HighscoreTable{}) {
		t.Error("new state has highscores")
	}
	s.SetHighscores(frame.DefaultHighscores())
	if s.Highscores() != frame.DefaultHighscores() {
		t.Errorf("Highscores = %v", s.Highscores())
	}
}

func TestPaddles(t *testing.T) {
	if match.OpponentPaddle(match.Master) != 2 || match.OpponentPaddle(match.Slave) != 1 {
		t.Error("opponent paddle mapping wrong")
	}
	if match.LocalPaddle(match.Master) != 1 || match.LocalPaddle(match.Slave) != 2 {
		t.Error("local paddle mapping wrong")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := match.ParseRole("slave"); err != nil || r != match.Slave {
		t.Errorf("ParseRole(slave) = %v, %v", r, err)
	}
	if _, err := match.ParseRole("observer"); err == nil {
		t.Error("ParseRole(observer) should fail")
	}
}
