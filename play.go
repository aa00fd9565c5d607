package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netpong/discovery"
	"netpong/frame"
	"netpong/game"
	"netpong/game/screen"
	"netpong/handshake"
	"netpong/match"
	"netpong/metrics"
	"netpong/peer"
	"netpong/rendezvous"
)

func playCmd(a *app) *cobra.Command {
	var roleName string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Find an opponent and play a match",
		Long: `Broadcast on the local network until an opponent answers, then play.

The master picks its slave from the first foreign broadcast it hears and
owns the ball; the slave waits to be picked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := match.ParseRole(roleName)
			if err != nil {
				return err
			}
			return a.runPlay(cmd.Context(), role)
		},
	}

	cmd.Flags().StringVarP(&roleName, "role", "r", "", "master or slave")
	cmd.Flags().StringVarP(&a.flags.Name, "name", "n", "Player", "name entered in the highscore table")
	cmd.MarkFlagRequired("role")

	return cmd
}

func (a *app) selfAddr() (netip.Addr, error) {
	if a.cfg.Addr != "" {
		return netip.ParseAddr(a.cfg.Addr)
	}
	return discovery.LocalAddr()
}

func (a *app) retryPolicy() handshake.RetryPolicy {
	return handshake.RetryPolicy{
		MaxAttempts: a.cfg.RetryAttempts,
		Delay:       time.Duration(a.cfg.RetryDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(a.cfg.RetryMaxDelayMS) * time.Millisecond,
	}
}

func (a *app) runPlay(ctx context.Context, role match.Role) error {
	cfg := a.cfg
	log := a.logger

	self, err := a.selfAddr()
	if err != nil {
		return err
	}
	server, err := cfg.ServerAddr()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := match.NewState(self)
	if err := state.SetRole(role); err != nil {
		return err
	}

	var velocity game.Velocity
	if role == match.Master {
		velocity = game.RandomVelocity(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	m := game.NewMatch(velocity)

	client := rendezvous.NewClient(state, cfg.Timeout())
	client.Logger = log.With("component", "rendezvous")
	client.Metrics = a.metrics

	ch := discovery.New(self, cfg.Port)
	ch.BroadcastAddr = netip.MustParseAddr(cfg.BroadcastAddr)
	ch.Interval = cfg.BroadcastInterval()
	ch.Logger = log.With("component", "discovery")
	ch.Metrics = a.metrics

	link := peer.NewServer(fmt.Sprintf(":%d", cfg.Port), state, m, cfg.Timeout())
	link.Logger = log.With("component", "peer")
	link.Metrics = a.metrics

	coord := &handshake.Coordinator{
		State:      state,
		Game:       m,
		Discovery:  ch,
		Rendezvous: client,
		PeerLink:   link,
		Server:     server,
		PeerPort:   cfg.OpponentPort(),
		Retry:      a.retryPolicy(),
		Logger:     log.With("component", "handshake"),
		Metrics:    a.metrics,
	}

	scr := screen.New(m, state)
	scr.Logger = log.With("component", "screen")
	scr.GameOver = func(score int) {
		a.submitHighscore(ctx, client, state, score)
	}

	if cfg.MetricsAddr != "" {
		go a.serveHTTP(ctx, cfg.MetricsAddr, metrics.Handler(a.reg))
	}

	go func() {
		if _, err := client.RetrieveHighscores(ctx, server); err != nil {
			log.Warn("highscores unavailable", "error", err)
		}
	}()

	go func() {
		if err := coord.Run(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("handshake failed", "error", err)
			}
			return
		}
		opponent, _ := state.Peer()
		ob := rendezvous.NewOutbox(client, opponent)
		go ob.Run(ctx)
		scr.SetPusher(ob)
	}()

	log.Info("starting", "self", self, "role", role.String(), "server", server.String())
	return screen.Run(scr, "netpong - "+role.String())
}

// submitHighscore enters score into the shared table when it beats the
// lowest entry.
func (a *app) submitHighscore(ctx context.Context, client *rendezvous.Client, state *match.State, score int) {
	server, err := a.cfg.ServerAddr()
	if err != nil {
		return
	}
	t := state.Highscores()
	if t == (frame.HighscoreTable{}) {
		if t, err = client.RetrieveHighscores(ctx, server); err != nil {
			a.logger.Warn("cannot fetch highscores", "error", err)
			return
		}
	}
	if !t.Insert(a.cfg.Name, score) {
		a.logger.Info("score did not make the highscore table", "score", score, "lowest", t.Lowest())
		return
	}
	if err := client.UpdateHighscores(ctx, server, t); err != nil {
		a.logger.Warn("cannot update highscores", "error", err)
		return
	}
	a.logger.Info("new highscore", "name", a.cfg.Name, "score", score)
}

// serveHTTP runs an HTTP server until ctx is done.
func (a *app) serveHTTP(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	a.logger.Info("http listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("http server failed", "addr", addr, "error", err)
	}
}
