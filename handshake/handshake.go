// Package handshake negotiates a match between two instances.
//
// The coordinator walks one match through
//
//	Discovering -> Registering -> WaitingForPeerAck -> Connected
//
// and never moves backwards. Reaching Connected starts the match clock and,
// on the master, pushes the first ball velocity to the slave.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"netpong/discovery"
	"netpong/frame"
	"netpong/match"
	"netpong/metrics"
)

// Discoverer finds the opponent on the local network.
type Discoverer interface {
	Discover(ctx context.Context, payload string, initiator bool) (netip.Addr, error)
	Broadcast(ctx context.Context, payload string) error
}

// Rendezvous talks to the directory host and to the opponent's peer link.
// Replies are expected to be applied to the match state by the implementation.
type Rendezvous interface {
	RegisterMaster(ctx context.Context, server netip.AddrPort, master, slave netip.Addr) (frame.Message, error)
	AnnounceConnected(ctx context.Context, server netip.AddrPort) (frame.Message, error)
	Send(ctx context.Context, addr netip.AddrPort, msg frame.Message) error
}

// PeerLink receives the opponent's pushes for as long as ctx lives.
type PeerLink interface {
	ListenAndServe(ctx context.Context) error
}

// Coordinator runs the handshake of one match.
type Coordinator struct {
	State      *match.State
	Game       match.Game
	Discovery  Discoverer
	Rendezvous Rendezvous
	PeerLink   PeerLink

	// Server is the directory host.
	Server netip.AddrPort
	// PeerPort is the TCP port of the opponent's peer link.
	PeerPort uint16
	Retry    RetryPolicy

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "handshake")
	}
	return c.Logger
}

func (c *Coordinator) advance(next match.ConnectionState) error {
	if err := c.State.Advance(next); err != nil {
		return err
	}
	c.Metrics.HandshakeState(int(next))
	c.logger().Info("handshake state", "state", next.String(), "role", c.State.Role().String())
	return nil
}

// Run drives the handshake until Connected or until ctx ends. The peer link
// it starts keeps running after Run returns, until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	log := c.logger()
	role := c.State.Role()
	if role == match.Unassigned {
		return errors.New("handshake: role not assigned")
	}
	master := role == match.Master

	if err := c.advance(match.Discovering); err != nil {
		return err
	}
	opponent, err := c.Discovery.Discover(ctx, c.State.Self().String(), master)
	if err != nil {
		return fmt.Errorf("handshake: discovery: %w", err)
	}
	peerAddr := netip.AddrPortFrom(opponent, c.PeerPort)
	if err := c.State.SetPeer(peerAddr); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info("opponent found", "peer", peerAddr.String())

	linkErr := make(chan error, 1)
	go func() {
		if err := c.PeerLink.ListenAndServe(ctx); err != nil {
			linkErr <- err
		}
	}()

	if master {
		// Keep telling the slave it was picked until the slave answers on the
		// peer link or Run returns after the initial reset. The directory
		// host's ServerSet says nothing about whether the slave heard us.
		bctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			select {
			case <-c.State.PeerAckC():
				stop()
			case <-bctx.Done():
			}
		}()
		go c.Discovery.Broadcast(bctx, discovery.StartGamePayload(opponent))
	}

	if err := c.advance(match.Registering); err != nil {
		return err
	}
	if master {
		err = c.registerMaster(ctx, opponent)
	} else {
		err = c.pollDirectory(ctx)
	}
	if err != nil {
		return err
	}

	if err := c.advance(match.WaitingForPeerAck); err != nil {
		return err
	}
	if !master {
		if err := c.announce(ctx, peerAddr); err != nil {
			return err
		}
	}
	select {
	case <-c.State.ConnectedC():
	case err := <-linkErr:
		return fmt.Errorf("handshake: peer link: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.advance(match.Connected); err != nil {
		return err
	}
	c.Game.StartTimer()
	if master {
		c.Game.Reset()
		return c.pushReset(ctx, peerAddr)
	}
	return nil
}

func (c *Coordinator) registerMaster(ctx context.Context, slave netip.Addr) error {
	log := c.logger()
	err := c.Retry.Do(ctx, func(ctx context.Context) (bool, error) {
		reply, err := c.Rendezvous.RegisterMaster(ctx, c.Server, c.State.Self(), slave)
		if err != nil {
			log.Warn("registration failed, retrying", "server", c.Server.String(), "error", err)
			return false, err
		}
		log.Info("registered with directory host", "reply", reply.Command())
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("handshake: register master: %w", err)
	}
	return nil
}

// pollDirectory repeats "connected" until a reply marks the match connected.
func (c *Coordinator) pollDirectory(ctx context.Context) error {
	log := c.logger()
	err := c.Retry.Do(ctx, func(ctx context.Context) (bool, error) {
		if c.State.Connected() {
			return true, nil
		}
		if _, err := c.Rendezvous.AnnounceConnected(ctx, c.Server); err != nil {
			log.Debug("directory poll failed", "error", err)
			return false, err
		}
		return c.State.Connected(), nil
	})
	if err != nil {
		return fmt.Errorf("handshake: poll directory: %w", err)
	}
	return nil
}

// announce tells the master's peer link that the slave is ready.
func (c *Coordinator) announce(ctx context.Context, master netip.AddrPort) error {
	err := c.Retry.Do(ctx, func(ctx context.Context) (bool, error) {
		err := c.Rendezvous.Send(ctx, master, frame.Connected{})
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("handshake: announce to master: %w", err)
	}
	return nil
}

// pushReset sends the first GameReset. The slave's peer link may still be
// starting, so failed sends are retried.
func (c *Coordinator) pushReset(ctx context.Context, slave netip.AddrPort) error {
	vx, vy := c.Game.BallVelocity()
	msg := frame.GameReset{VX: vx, VY: vy}
	err := c.Retry.Do(ctx, func(ctx context.Context) (bool, error) {
		err := c.Rendezvous.Send(ctx, slave, msg)
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("handshake: initial reset: %w", err)
	}
	c.logger().Info("initial reset sent", "vx", vx, "vy", vy)
	return nil
}
