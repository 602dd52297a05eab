package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signupboard/internal/activities"
	"signupboard/internal/capture"
	"signupboard/internal/config"
	appLog "signupboard/internal/log"
	"signupboard/internal/scheduler"
	"signupboard/internal/ui"
	"signupboard/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Warn("could not write default config, continuing with defaults", err, "config_path", flags.configPath)
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("signupboard starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"service_url", conf.ServiceURL,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"request_timeout", conf.RequestTimeout,
		"capture", conf.Capture.Enabled,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := activities.NewClient(conf.ServiceURL, activities.WithTimeout(conf.RequestTimeout))
	board := ui.New(client,
		ui.WithLocation(conf.Location()),
		ui.WithDelays(ui.Delays{
			Signup:            conf.Messages.SignupHide,
			UnregisterSuccess: conf.Messages.UnregisterSuccessHide,
			UnregisterError:   conf.Messages.UnregisterErrorHide,
		}),
	)

	if flags.once {
		if err := runOnce(ctx, conf, board, client); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	board.Initialize(ctx)

	if conf.RefreshCron != "" {
		sched, err := scheduler.New(conf.RefreshCron, conf.Location(), "refresh", func(jobCtx context.Context) {
			refresh(jobCtx, conf, board)
		})
		if err != nil {
			appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
		sched.Start()
		appLog.Info("refresh scheduled", "refresh", conf.RefreshCron, "next", sched.Next().Format(time.RFC3339))
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				appLog.Warn("scheduler did not stop cleanly", err)
			}
		}()
	} else {
		appLog.Info("periodic refresh disabled")
	}

	if err := web.StartServer(ctx, conf, board, client); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}
	appLog.Info("signupboard exiting")
}

// refresh reloads the board and, when enabled, captures a fresh preview.
func refresh(ctx context.Context, conf *config.Config, board *ui.Controller) {
	if err := board.LoadActivities(ctx); err != nil {
		// The board already shows the failure text; capture it anyway.
		appLog.Debug("scheduled refresh failed", "err", err)
	}
	if !conf.Capture.Enabled {
		return
	}
	if err := capturePreview(ctx, conf); err != nil {
		appLog.Error("preview capture failed", err, "output", conf.Capture.OutputPath)
		return
	}
	appLog.Info("preview captured", "output", conf.Capture.OutputPath)
}

// runOnce loads the board a single time. With capture enabled the HTTP
// server runs just long enough for Chromium to render it.
func runOnce(ctx context.Context, conf *config.Config, board *ui.Controller, client *activities.Client) error {
	if err := board.LoadActivities(ctx); err != nil {
		return err
	}
	v := board.View()
	appLog.Info("board loaded", "activities", len(v.Cards))
	if !conf.Capture.Enabled {
		return nil
	}

	srvCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.StartServer(srvCtx, conf, board, client)
	}()

	err := waitHealthy(ctx, boardURL(conf, "/health"))
	if err == nil {
		err = capturePreview(ctx, conf)
	}
	cancel()
	if srvErr := <-errCh; srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) && err == nil {
		err = srvErr
	}
	if err == nil {
		appLog.Info("preview captured", "output", conf.Capture.OutputPath)
	}
	return err
}

func capturePreview(ctx context.Context, conf *config.Config) error {
	return capture.BoardPNG(ctx, capture.Options{
		URL:        boardURL(conf, "/"),
		OutputPath: conf.Capture.OutputPath,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
	})
}

// boardURL points at our own listener, swapping a wildcard host for loopback
// and carrying Basic Auth credentials when configured.
func boardURL(conf *config.Config, path string) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		host, port = conf.Listen, "80"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: path}
	if conf.BasicAuth != nil {
		u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
	}
	return u.String()
}

// waitHealthy polls /health until the freshly started server answers.
func waitHealthy(ctx context.Context, healthURL string) error {
	hc := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range 50 {
		resp, err := hc.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("server at %s did not become healthy", healthURL)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./signupboard.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the board once (and capture a preview if enabled), then exit")

	flag.Parse()

	return cfg
}
