package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/creamcroissant/xray-client/internal/api"
	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/job"
	"github.com/creamcroissant/xray-client/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a daemon: periodic updates, SIGHUP reload and the JSON API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := newClient(cfg, client.Deps{Metrics: metrics.New(reg)}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动时与 SIGHUP 走同一条 reload 路径
	if err := c.Reload(ctx); err != nil {
		logger.Error("initial reload failed", "error", err)
	}

	scheduler := job.NewScheduler(cfg.Monitor.ActionTimeout, logger)
	updateJob := job.NewSubscriptionUpdateJob(c, logger)
	interval := c.Settings().Interval
	entryID, err := scheduler.Every(interval, updateJob)
	if err != nil {
		return err
	}
	scheduler.Start()
	logger.Info("subscription update scheduled", "interval", interval)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("SIGHUP received, reloading")
				// reload 等待闸门，不与定时任务或 API 操作交错
				if err := c.Exclusive(ctx, func() error { return c.Reload(ctx) }); err != nil {
					logger.Error("reload failed", "error", err)
				}
				next := c.Settings().Interval
				if next == interval {
					continue
				}
				id, err := scheduler.Reschedule(entryID, next, updateJob)
				if err != nil {
					logger.Error("reschedule subscription update failed", "interval", next, "error", err)
					continue
				}
				entryID, interval = id, next
				logger.Info("subscription update rescheduled", "interval", interval)
			}
		}
	}()

	var server *http.Server
	if cfg.API.Enabled {
		router := api.NewRouter(logger, c, api.Options{
			API:      cfg.API,
			Metrics:  cfg.Metrics,
			Registry: reg,
		})
		server = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server starting", "addr", cfg.API.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}
	logger.Info("client exited cleanly")
	return nil
}
