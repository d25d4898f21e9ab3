// Package server wires the push components together and runs them.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anipush/anipush/internal/buffer"
	"github.com/anipush/anipush/internal/config"
	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/events"
	"github.com/anipush/anipush/internal/handlers"
	"github.com/anipush/anipush/internal/imagecache"
	"github.com/anipush/anipush/internal/ingest"
	"github.com/anipush/anipush/internal/pipeline"
	"github.com/anipush/anipush/internal/render"
	"github.com/anipush/anipush/internal/store"
	"github.com/anipush/anipush/pkg/onebot"
)

// Runner owns the lifecycle of the bus, buffer, pipeline, handler and
// HTTP surface.
type Runner struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger
}

// NewRunner creates a new runner.
func NewRunner(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, cfg: cfg, logger: logger}
}

// BuildPipeline constructs the pipeline and the buffer it dispatches
// through. The caller owns the returned buffer's lifecycle.
func (r *Runner) BuildPipeline(bus *events.Bus) (*pipeline.Pipeline, *buffer.Buffer, error) {
	renderer, err := r.renderer()
	if err != nil {
		return nil, nil, err
	}

	buf := buffer.New(r.cfg.Push.DebounceWindow(), r.logger)

	var sender pipeline.Sender
	if r.cfg.OneBot.URL != "" {
		opts := []onebot.Option{onebot.WithLogger(r.logger)}
		if r.cfg.OneBot.AccessToken != "" {
			opts = append(opts, onebot.WithAccessToken(r.cfg.OneBot.AccessToken))
		}
		sender = onebot.New(r.cfg.OneBot.URL, opts...)
	} else {
		sender = discardSender{log: r.logger}
	}

	pipe := pipeline.New(pipeline.Deps{
		Store:      store.New(r.db, r.logger),
		Normalizer: event.NewNormalizer(r.cfg.Emby.Host, r.logger),
		Images: imagecache.New(imagecache.Config{
			CacheDir:     r.cfg.Workdir.CacheDir,
			DefaultImage: r.cfg.Workdir.DefaultImage,
			EmbyHost:     r.cfg.Emby.Host,
			EmbyKey:      r.cfg.Emby.APIKey,
			Proxy:        r.cfg.Network.Proxy,
			EmbyEnabled:  r.cfg.Features.EmbyEnabled,
		}, r.logger),
		Buffer:   buf,
		Renderer: renderer,
		Sender:   sender,
		Bus:      bus,
		Config: pipeline.Config{
			TitleMatch: r.cfg.Features.TitleMatch,
			Targets: map[event.Source]pipeline.Targets{
				event.SourceAniRSS: {
					Groups:  r.cfg.Push.AniRSS.Groups,
					Private: r.cfg.Push.AniRSS.Private,
				},
				event.SourceEmby: {
					Groups:  r.cfg.Push.Emby.Groups,
					Private: r.cfg.Push.Emby.Private,
				},
			},
		},
		Logger: r.logger,
	})
	return pipe, buf, nil
}

func (r *Runner) renderer() (*render.Renderer, error) {
	if r.cfg.Workdir.Template == "" {
		return render.Default(r.logger), nil
	}
	renderer, err := render.Load(r.cfg.Workdir.Template, r.logger)
	if err != nil {
		return nil, fmt.Errorf("load message template: %w", err)
	}
	return renderer, nil
}

// Run starts all components and blocks until the context is canceled
// or a component fails.
func (r *Runner) Run(ctx context.Context) error {
	eventLog := events.NewEventLog(r.db)
	bus := events.NewBus(eventLog, r.logger)
	defer bus.Close()

	pipe, buf, err := r.BuildPipeline(bus)
	if err != nil {
		return err
	}
	defer buf.Stop()

	handler := handlers.NewPushHandler(bus, pipe, r.logger.With("component", "handler"))

	mux := http.NewServeMux()
	ingest.New(store.New(r.db, r.logger), bus, r.logger).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := net.JoinHostPort(r.cfg.Server.Host, strconv.Itoa(r.cfg.Server.Port))
	srv := &http.Server{Addr: addr, Handler: logRequests(mux, r.logger)}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s handler: %w", handler.Name(), err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// discardSender stands in when no transport is configured.
type discardSender struct {
	log *slog.Logger
}

func (d discardSender) SendPrivate(_ context.Context, msg onebot.Message, userIDs []string) error {
	d.log.Warn("no transport configured, dropping private message", "users", len(userIDs), "preview", preview(msg))
	return nil
}

func (d discardSender) SendGroup(_ context.Context, msg onebot.Message, groupID string) error {
	d.log.Warn("no transport configured, dropping group message", "group", groupID, "preview", preview(msg))
	return nil
}

func preview(msg onebot.Message) string {
	plain := msg.Plain()
	if len(plain) > 80 {
		return plain[:80]
	}
	return plain
}
