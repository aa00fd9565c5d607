// Package match holds the per-match network state shared between the
// handshake, the peer link server, the rendezvous client and the game loop.
package match

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"netpong/frame"
)

// Role of this instance within a match.
type Role int

const (
	// Unassigned is the role before discovery completes.
	Unassigned Role = iota
	// Master owns ball physics, resets and the reset velocity.
	Master
	// Slave applies what the master pushes.
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Slave:
		return "slave"
	default:
		return "unassigned"
	}
}

// ParseRole accepts "master" or "slave".
func ParseRole(s string) (Role, error) {
	switch s {
	case "master":
		return Master, nil
	case "slave":
		return Slave, nil
	}
	return Unassigned, fmt.Errorf("match: unknown role %q", s)
}

// ConnectionState of the handshake. It only moves forward.
type ConnectionState int

const (
	Discovering ConnectionState = iota
	Registering
	WaitingForPeerAck
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Discovering:
		return "discovering"
	case Registering:
		return "registering"
	case WaitingForPeerAck:
		return "waiting_for_peer_ack"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

var (
	ErrRoleAssigned    = errors.New("match: role already assigned")
	ErrPeerAssigned    = errors.New("match: peer address already assigned")
	ErrSelfPeer        = errors.New("match: peer address is our own")
	ErrInvalidPeer     = errors.New("match: invalid peer address")
	ErrStateRegression = errors.New("match: connection state cannot move backwards")
)

// Game is the slice of the running game the network layer drives.
// Implementations are called from network goroutines.
type Game interface {
	// SetPaddlePosition moves paddle 1 or 2.
	SetPaddlePosition(paddle int, x, y float64)
	SetBallVelocity(vx, vy float64)
	BallVelocity() (vx, vy float64)
	// Reset re-centres paddles and ball for a new point.
	Reset()
	// StartTimer starts the per-second match clock.
	StartTimer()
}

// State is the network aggregate of one match. A new match gets a new State.
type State struct {
	self netip.Addr

	mu         sync.Mutex
	role       Role
	conn       ConnectionState
	peer       netip.AddrPort
	highscores frame.HighscoreTable

	connected     atomic.Bool
	connectedOnce sync.Once
	connectedC    chan struct{}

	peerAckOnce sync.Once
	peerAckC    chan struct{}
}

// NewState returns the state of a match played from address self.
func NewState(self netip.Addr) *State {
	return &State{
		self:       self,
		connectedC: make(chan struct{}),
		peerAckC:   make(chan struct{}),
	}
}

// Self returns this instance's own address.
func (s *State) Self() netip.Addr {
	return s.self
}

// SetRole assigns the role once.
func (s *State) SetRole(r Role) error {
	if r != Master && r != Slave {
		return fmt.Errorf("match: cannot assign role %v", r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != Unassigned {
		return ErrRoleAssigned
	}
	s.role = r
	return nil
}

func (s *State) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// IsMaster reports whether this instance is the match master.
func (s *State) IsMaster() bool {
	return s.Role() == Master
}

// SetPeer records the opponent's address. It refuses invalid addresses, our
// own address and any second assignment.
func (s *State) SetPeer(p netip.AddrPort) error {
	if !p.IsValid() {
		return ErrInvalidPeer
	}
	if p.Addr() == s.self {
		return ErrSelfPeer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer.IsValid() {
		return ErrPeerAssigned
	}
	s.peer = p
	return nil
}

// Peer returns the opponent address and whether it is known yet.
func (s *State) Peer() (netip.AddrPort, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.peer.IsValid()
}

// Advance moves the connection state to next. Moving to the current state is
// a no-op; moving backwards fails.
func (s *State) Advance(next ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.conn {
		return fmt.Errorf("%w: %v -> %v", ErrStateRegression, s.conn, next)
	}
	s.conn = next
	return nil
}

func (s *State) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// MarkConnected records that the peer or the directory host confirmed the
// match. Calling it again has no effect.
func (s *State) MarkConnected() {
	s.connectedOnce.Do(func() {
		s.connected.Store(true)
		close(s.connectedC)
	})
}

// Connected is the snapshot the render loop polls once per tick.
func (s *State) Connected() bool {
	return s.connected.Load()
}

// ConnectedC is closed once MarkConnected has been called.
func (s *State) ConnectedC() <-chan struct{} {
	return s.connectedC
}

// MarkPeerAck records that the opponent itself answered over the peer link,
// as opposed to the directory host confirming the pairing.
func (s *State) MarkPeerAck() {
	s.peerAckOnce.Do(func() { close(s.peerAckC) })
}

// PeerAckC is closed once MarkPeerAck has been called.
func (s *State) PeerAckC() <-chan struct{} {
	return s.peerAckC
}

// SetHighscores caches the table last received from the directory host.
func (s *State) SetHighscores(t frame.HighscoreTable) {
	s.mu.Lock()
	s.highscores = t
	s.mu.Unlock()
}

func (s *State) Highscores() frame.HighscoreTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highscores
}

// OpponentPaddle returns the paddle moved by inbound locationSet messages:
// the master plays paddle 1, so the network drives paddle 2, and the other
// way round for the slave.
func OpponentPaddle(r Role) int {
	if r == Master {
		return 2
	}
	return 1
}

// LocalPaddle returns the paddle this instance controls.
func LocalPaddle(r Role) int {
	if r == Master {
		return 1
	}
	return 2
}
