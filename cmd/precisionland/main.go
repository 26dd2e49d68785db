// Package main runs a precision landing session against a MAVLink autopilot.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/precisionland/autopilot"
	"go.viam.com/precisionland/camera"
	"go.viam.com/precisionland/config"
	"go.viam.com/precisionland/detection"
	"go.viam.com/precisionland/fusion"
	"go.viam.com/precisionland/landing"
	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/pose"
	"go.viam.com/precisionland/report"
)

const (
	flagConfig  = "config"
	flagConnect = "connect"
	flagDebug   = "debug"
)

func main() {
	app := &cli.App{
		Name:  "precisionland",
		Usage: "guide a landing onto a pair of fiducial markers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "precisionland.json",
				Usage:   "path to the configuration file",
			},
			&cli.StringFlag{
				Name:  flagConnect,
				Usage: "autopilot connection string, overrides the configuration",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "check the configuration and calibration without connecting",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if _, err := cfg.Camera.Model(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "configuration ok")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if conn := c.String(flagConnect); conn != "" {
		cfg.Autopilot.Connection = conn
		if err := cfg.Autopilot.Validate("autopilot"); err != nil {
			return nil, err
		}
	}
	if c.Bool(flagDebug) {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (logging.Logger, func(), error) {
	logger := logging.NewLogger("precisionland")
	if cfg.Level != "" {
		level, err := logging.LevelFromString(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		logger.SetLevel(level)
	}
	cleanup := func() {
		goutils.UncheckedError(logger.Sync())
	}
	if cfg.File != nil {
		appender, closer := logging.NewFileAppender(*cfg.File)
		logger.AddAppender(appender)
		cleanup = func() {
			goutils.UncheckedError(logger.Sync())
			goutils.UncheckedError(closer.Close())
		}
	}
	return logger, cleanup, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("landing aborted", "error", err)
		return err
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	clk := clock.New()

	model, err := cfg.Camera.Model()
	if err != nil {
		return errors.Wrap(err, "cannot load camera calibration")
	}
	selector, err := cfg.Selector(logger.Sublogger("selector"))
	if err != nil {
		return err
	}
	estimator, err := pose.NewEstimator(model, cfg.Camera.FOVToleranceRad(), logger.Sublogger("pose"))
	if err != nil {
		return err
	}
	fuser, err := fusion.NewFuser(cfg.Fusion, logger.Sublogger("fusion"))
	if err != nil {
		return err
	}
	detector, err := detection.NewReplayDetectorFromFile(cfg.Detector.ReplayFile)
	if err != nil {
		return err
	}
	metrics := report.NewMetrics(clk)
	reporter := report.NewReporter(metrics, logger.Sublogger("report"))

	if cfg.Metrics.ListenAddr != "" {
		shutdown := serveMetrics(cfg.Metrics.ListenAddr, metrics, logger)
		defer shutdown()
	}

	images, err := camera.NewImageDirSource(cfg.Camera.Images, clk)
	if err != nil {
		return err
	}

	link, err := autopilot.Connect(ctx, cfg.Autopilot, logger.Sublogger("autopilot"))
	if err != nil {
		goutils.UncheckedError(images.Close(ctx))
		return err
	}
	defer link.Close()

	if err := landing.ConfigurePrecisionLanding(ctx, link, cfg.PrecisionLanding, logger); err != nil {
		goutils.UncheckedError(images.Close(ctx))
		return err
	}

	// Frames are only pulled once the vehicle is ready, so a replayed directory starts at its
	// first image.
	frames := camera.NewLatestFrame(images, clk, logger.Sublogger("camera"))
	defer func() {
		goutils.UncheckedError(frames.Close(context.Background()))
	}()

	pipeline, err := landing.NewPipeline(landing.Components{
		Vehicle:   link,
		Frames:    frames,
		Detector:  detector,
		Selector:  selector,
		Estimator: estimator,
		Fuser:     fuser,
		Reporter:  reporter,
		Clock:     clk,
	}, cfg.Loop.RateHz, logger.Sublogger("landing"))
	if err != nil {
		return err
	}
	return pipeline.Run(ctx)
}

func serveMetrics(addr string, metrics *report.Metrics, logger logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	goutils.PanicCapturingGo(func() {
		logger.Infow("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "error", err)
		}
	})
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		goutils.UncheckedError(server.Shutdown(shutdownCtx))
	}
}
