package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"eventbatcher/internal/reaper"
	"eventbatcher/pkg/batcher"
	"eventbatcher/pkg/config"
	"eventbatcher/pkg/httpx"
	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/sink"
	"eventbatcher/pkg/store"
)

const shutdownTimeout = 30 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	q     queue.Queue
	redis *queue.RedisQueue
	sink  sink.Sink
	store *store.Store
	mgr   *batcher.Manager

	// Listener overrides the configured listen address; tests bind 127.0.0.1:0.
	Listener net.Listener
	// Registerer receives store collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// New opens the queue and sink the role needs. It does not start the
// Batcher or the HTTP server; call Run for that.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("app: nil config")
	}
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	a := &App{eff: eff, cfg: eff.Config, version: version, commit: commit, buildDate: buildDate}

	if err := a.openQueue(); err != nil {
		return nil, err
	}
	if a.runsBatcher() {
		if err := a.openSink(); err != nil {
			_ = a.release()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) runsBatcher() bool { return a.cfg.Role != config.RoleAPI }
func (a *App) servesEvents() bool { return a.cfg.Role != config.RoleBatcher }

func (a *App) openQueue() error {
	qc := a.cfg.Queue
	switch qc.Backend {
	case "redis":
		rq, err := queue.DialRedis(queue.RedisOptions{
			Addr:         qc.Redis.Addr,
			Password:     qc.Redis.Password,
			DB:           qc.Redis.DB,
			Prefix:       qc.Redis.Prefix,
			PollInterval: a.cfg.Batcher.PollInterval.Duration(),
		})
		if err != nil {
			return fmt.Errorf("open redis queue: %w", err)
		}
		a.redis = rq
		a.q = rq
	default:
		a.q = queue.NewMemoryQueue()
	}
	logger.Info("queue_opened", "backend", qc.Backend, "role", a.cfg.Role)
	return nil
}

func (a *App) openSink() error {
	sc := a.cfg.Sink
	switch sc.Type {
	case "pebble":
		p, err := sink.OpenPebble(sc.Pebble.Path)
		if err != nil {
			return fmt.Errorf("failed to open pebble at %s: %w", sc.Pebble.Path, err)
		}
		a.sink = p
		a.store = p.Store
	case "bulk":
		b, err := sink.NewBulk(sink.BulkOptions{
			URL:      sc.Bulk.URL,
			Username: sc.Bulk.Username,
			Password: sc.Bulk.Password,
			Timeout:  sc.Bulk.Timeout.Duration(),
		})
		if err != nil {
			return err
		}
		a.sink = b
	default:
		a.sink = sink.Discard{}
	}
	logger.Info("sink_opened", "type", sc.Type)
	return nil
}

func (a *App) batcherConfig() batcher.Config {
	b := a.cfg.Batcher
	return batcher.Config{
		MaxElements:  b.MaxElements,
		MaxSize:      int(b.MaxSize.Int64()),
		MaxTime:      b.MaxTime.Duration(),
		PollInterval: b.PollInterval.Duration(),
		FlushTimeout: b.FlushTimeout.Duration(),
		SinkRetries:  b.SinkRetries,
		RetryDelay:   b.RetryDelay.Duration(),
	}
}

// Run starts the Batcher, the reaper and the HTTP server, and blocks until
// ctx is canceled or one of them fails. Everything accepted before the
// return has been flushed and resolved.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if rerr := a.release(); rerr != nil {
			err = multierror.Append(err, rerr).ErrorOrNil()
		}
	}()

	if a.runsBatcher() {
		// only Shutdown stops the Batcher, after HTTP intake has stopped
		a.mgr, err = batcher.Start(context.WithoutCancel(ctx), batcher.Options{Queue: a.q, Sink: a.sink, Config: a.batcherConfig()})
		if err != nil {
			return err
		}
	}
	if a.store != nil {
		reg := a.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range a.store.Collectors() {
			if rerr := reg.Register(c); rerr != nil {
				logger.Warn("collector_register_failed", "error", rerr)
			}
		}
	}

	srv, ln, err := a.startHTTP()
	if err != nil {
		a.stopBatcher()
		return err
	}
	a.printBanner(ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listening", "addr", ln.Addr().String(), "engine", a.cfg.Server.Engine)
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, httpx.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serr)
		}
		return nil
	})
	if a.mgr != nil {
		g.Go(func() error {
			select {
			case <-a.mgr.Done():
				if merr := a.mgr.Err(); merr != nil {
					return fmt.Errorf("batcher stopped: %w", merr)
				}
				return errors.New("batcher stopped")
			case <-gctx.Done():
				return nil
			}
		})
	}
	if a.runsBatcher() && a.cfg.Results.Reaper.Enabled {
		r, rerr := reaper.New(a.q, a.cfg.Results.Reaper.Cron, a.cfg.Results.Reaper.TTL.Duration())
		if rerr != nil {
			a.stopBatcher()
			return rerr
		}
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		// stop intake first so nothing new reaches the queue
		var merr *multierror.Error
		if serr := srv.Shutdown(sctx); serr != nil {
			merr = multierror.Append(merr, fmt.Errorf("http shutdown: %w", serr))
		}
		a.stopBatcher()
		return merr.ErrorOrNil()
	})

	err = g.Wait()
	if a.mgr != nil {
		if merr := a.mgr.Err(); merr != nil && !errors.Is(err, merr) {
			err = multierror.Append(err, merr).ErrorOrNil()
		}
	}
	logger.Info("app_stopped", "error", err)
	return err
}

func (a *App) stopBatcher() {
	if a.mgr == nil {
		return
	}
	if err := a.mgr.Shutdown(); err != nil {
		logger.Error("batcher_shutdown_failed", "error", err)
	}
}

// release closes the sink and the Redis connection. Safe after a partial New.
func (a *App) release() error {
	var result *multierror.Error
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close sink: %w", err))
		}
		a.sink = nil
	}
	if a.redis != nil {
		if err := a.redis.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	return result.ErrorOrNil()
}
