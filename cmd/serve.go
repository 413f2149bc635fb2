package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screenpop/internal/api"
	"github.com/sells-group/screenpop/internal/config"
	"github.com/sells-group/screenpop/internal/phonesync"
	"github.com/sells-group/screenpop/internal/screenpop"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

var servePort int

// app is the process-wide state built once per serve.
type app struct {
	store     store.Store
	scheduler *phonesync.Scheduler
	server    *api.Server
	shutdown  time.Duration
}

func newSyncer(c *config.Config, st store.Store, cw connectwise.Client) *phonesync.Syncer {
	return phonesync.NewSyncer(cw, st, phonesync.Options{
		PageSize: c.Sync.PageSize,
		MaxPages: c.Sync.MaxPages,
	})
}

func newApp(c *config.Config, st store.Store, cw connectwise.Client) *app {
	sched := phonesync.NewScheduler(
		newSyncer(c, st, cw), st,
		c.Sync.Interval(),
		time.Duration(c.Sync.RetryBackoffSecs)*time.Second,
	)
	dir := screenpop.NewDirectory(st, cw, c.Extensions.Static, c.Extensions.Overrides)
	srv := api.NewServer(st, cw, sched, dir, api.Options{
		SyncInterval:    c.Sync.Interval(),
		ConnectWiseURL:  c.ConnectWise.BaseURL,
		NilearURL:       c.Nilear.BaseURL,
		NilearTicketURL: c.Nilear.TicketURL,
		AllowedOrigins:  c.Server.AllowedOrigins,
	})

	shutdown := time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
	if shutdown <= 0 {
		shutdown = 15 * time.Second
	}
	return &app{store: st, scheduler: sched, server: srv, shutdown: shutdown}
}

// serve runs the HTTP server and the sync scheduler on ln until ctx is
// cancelled, then drains both within the shutdown timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	log := zap.L().With(zap.String("component", "serve"))
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if id, err := a.scheduler.Startup(ctx); err != nil {
		log.Error("startup sync check failed", zap.Error(err))
	} else if id != 0 {
		log.Info("startup sync started", zap.Int64("sync_id", id))
	}
	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdown)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if serr := a.scheduler.Stop(a.shutdown); serr != nil {
			log.Warn("scheduler did not stop cleanly", zap.Error(serr))
		}
		return eris.Wrap(err, "server shutdown")
	})
	return g.Wait()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screenpop webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrapf(err, "listen on port %d", port)
		}

		return newApp(cfg, st, newConnectWise(cfg.ConnectWise)).serve(ctx, ln)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
