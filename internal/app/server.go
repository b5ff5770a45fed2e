package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahal-transit/bustrack/internal/api"
	"github.com/rahal-transit/bustrack/internal/cache"
	"github.com/rahal-transit/bustrack/internal/config"
	"github.com/rahal-transit/bustrack/internal/store"
	"github.com/rahal-transit/bustrack/internal/track"
)

// Server owns the process-wide state: the connection registry, the
// ingestion gate, and the stores they depend on. Everything is built
// here and injected; nothing in the tree reaches for ambient globals.
type Server struct {
	httpServer *http.Server
	Registry   *track.Registry
	Ingestor   *track.Ingestor

	store     *store.Store
	positions *cache.Positions
	log       *zap.Logger
}

func NewServer(cfg *config.Config) (*Server, error) {
	log := zap.L()
	ctx := context.Background()

	if cfg.Postgres.Migrate {
		if err := store.Migrate(cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var positions *cache.Positions
	var positionCache track.PositionCache
	if cfg.Redis.URL != "" {
		positions, err = cache.Open(cfg.Redis.URL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open position cache: %w", err)
		}
		positionCache = positions
	} else {
		log.Info("no redis configured, snapshot-on-subscribe disabled")
	}

	reg := track.NewRegistry()
	ing := track.NewIngestor(reg, positionCache, cfg.Fanout.QueueSize, log.Named("ingest"))

	wsHandler := &api.WSHandler{
		Registry: reg,
		Auth:     st,
		Authz:    st,
		Cache:    positionCache,
		Cfg:      cfg.WS,
	}
	ingestHandler := &api.IngestHandler{
		Ingestor: ing,
		Auth:     st,
		Authz:    st,
	}
	mux := api.SetupRoutes(wsHandler, ingestHandler, reg)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: mux,
		},
		Registry:  reg,
		Ingestor:  ing,
		store:     st,
		positions: positions,
		log:       log,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down: HTTP listener
// first, then every live observer connection, then the stores.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.Ingestor.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.drain()
		return err
	})

	err := g.Wait()

	s.store.Close()
	if s.positions != nil {
		s.positions.Close()
	}
	return err
}

// drain closes every live observer connection, subscribed or not
// (Shutdown does not touch hijacked WebSocket transports). Each Close runs
// its own registry detach, so a concurrent client-side close is safe.
func (s *Server) drain() {
	conns := s.Registry.Drain()
	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		s.log.Info("closed observer connections", zap.Int("count", len(conns)))
	}
}
