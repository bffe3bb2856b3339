package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/romsteck/homeroute-backup/pkg/api"
	"github.com/romsteck/homeroute-backup/pkg/buildinfo"
	"github.com/romsteck/homeroute-backup/pkg/config"
	"github.com/romsteck/homeroute-backup/pkg/engine"
	"github.com/romsteck/homeroute-backup/pkg/events"
	"github.com/romsteck/homeroute-backup/pkg/history"
	"github.com/romsteck/homeroute-backup/pkg/mount"
	"github.com/romsteck/homeroute-backup/pkg/plog"
	"github.com/romsteck/homeroute-backup/pkg/runlock"
	"github.com/romsteck/homeroute-backup/pkg/sched"
	"github.com/romsteck/homeroute-backup/pkg/transfer"
)

// init sets up a custom, more descriptive help message for the flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "The backup engine of the HomeRoute home-server dashboard: mirrors local\n")
		fmt.Fprintf(flag.CommandLine.Output(), "directories onto an SMB share and serves the backup API.\n\n")
		flag.PrintDefaults()
	}
}

func run() error {
	configPath := flag.String("config", "/etc/homeroute/"+config.ConfigFileName, "Path to the configuration file.")
	listenFlag := flag.String("listen", "", "HTTP listen address, overrides the configured one.")
	logLevelFlag := flag.String("log-level", "", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	}

	cfgStore, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg := cfgStore.Current()

	logLevel := cfg.LogLevel
	if *logLevelFlag != "" {
		logLevel = *logLevelFlag
	}
	plog.SetLevel(plog.LevelFromString(logLevel))

	listen := cfg.Listen
	if *listenFlag != "" {
		listen = *listenFlag
	}

	hub := events.NewHub()
	token := runlock.NewToken(hub)
	mounter := mount.NewController(cfg.Share.Remote, cfg.MountPoint, cfg.Share.Username, cfg.Share.Password)
	runner := transfer.NewRunner(token, hub)
	store := history.NewStore(cfg.HistoryPath, history.DefaultLimit)
	eng := engine.New(cfgStore, mounter, runner, store, token, hub)

	var scheduler *sched.Scheduler
	if cfg.Schedule != "" {
		scheduler, err = sched.New(cfg.Schedule, eng)
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
		scheduler.Start()
		plog.Info("Scheduled runs enabled", "schedule", cfg.Schedule)
	}

	server := &http.Server{
		Addr:    listen,
		Handler: api.NewServer(eng, cfgStore, hub).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		plog.Info(buildinfo.Name+" listening", "addr", listen, "version", buildinfo.Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	plog.Info("Shutting down")
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		plog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}
