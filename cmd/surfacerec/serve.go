package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/config"
	"github.com/breeze-rmm/surfacerec/internal/health"
	"github.com/breeze-rmm/surfacerec/internal/logging"
	"github.com/breeze-rmm/surfacerec/internal/metrics"
	"github.com/breeze-rmm/surfacerec/internal/panel"
	"github.com/breeze-rmm/surfacerec/internal/sink"
	"github.com/breeze-rmm/surfacerec/internal/surface"
	"github.com/breeze-rmm/surfacerec/internal/workerpool"
)

const shutdownTimeout = 30 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control panel over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		if serveListen != "" {
			cfg.Panel.Listen = serveListen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "panel listen address (overrides panel.listen)")
}

type deliveryObservers []panel.DeliveryObserver

func (d deliveryObservers) ObserveDelivery(sink string, err error) {
	for _, o := range d {
		o.ObserveDelivery(sink, err)
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	collector := metrics.New()
	monitor := health.NewMonitor()
	host, err := newHost(ctx, cfg, capture.ObserverFunc(func(e capture.Event) {
		collector.Observe(e)
		monitor.Observe(e)
	}))
	if err != nil {
		return err
	}
	monitor.ObserveCapabilities(host.Capabilities)

	dest, err := sink.New(ctx, cfg.Sink)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer dest.Close()

	reg, canvas := demoRegistry()
	pool := workerpool.New(cfg.DeliveryWorkers, cfg.DeliveryQueueSize)

	p, err := panel.AutoStart(panel.Options{
		Surfaces:    reg,
		Host:        host,
		Sink:        dest,
		SinkName:    cfg.Sink.Type,
		Pool:        pool,
		Deliveries:  deliveryObservers{collector, monitor},
		Hidden:      cfg.Panel.Hidden,
		RevokeAfter: time.Duration(cfg.Panel.RevokeAfterSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if p == nil {
		log.Info("panel hidden, serving metrics and health only", "addr", cfg.Panel.Listen)
	}

	g, gctx := errgroup.WithContext(ctx)

	if canvas != nil {
		g.Go(func() error {
			surface.Animate(gctx, canvas, cfg.FPS)
			return nil
		})
	}

	var (
		srv    *panel.Server
		plain  *http.Server
		listen func() error
	)
	if p != nil {
		srv = panel.NewServer(p, collector.Handler(), monitor.Handler())
		listen = func() error { return srv.ListenAndServe(cfg.Panel.Listen) }
	} else {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", collector.Handler())
		mux.Handle("GET /health", monitor.Handler())
		plain = &http.Server{Addr: cfg.Panel.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		listen = plain.ListenAndServe
	}

	g.Go(func() error {
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("panel server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		if plain != nil {
			errs = append(errs, plain.Shutdown(shutdownCtx))
		}
		if p != nil {
			errs = append(errs, p.Close(shutdownCtx))
		}
		pool.Shutdown(shutdownCtx)

		stats := pool.Stats()
		log.Info("deliveries finished",
			"submitted", stats.Submitted,
			"completed", stats.Completed,
			"rejected", stats.Rejected,
		)
		if err := errors.Join(errs...); err != nil {
			log.Warn("shutdown incomplete", logging.KeyError, err)
			return err
		}
		return nil
	})

	return g.Wait()
}
