// Command aesdsocketd is the daemon entrypoint: it loads configuration,
// wires the in-memory device surface to the TCP front-end, and runs until
// SIGINT/SIGTERM, at which point it shuts down without forcibly cutting off
// in-flight sessions. Grounded on cmd/wtd/main.go's cobra+signal.NotifyContext
// shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aesdlog/aesdlogd/internal/config"
	"github.com/aesdlog/aesdlogd/internal/device"
	"github.com/aesdlog/aesdlogd/internal/logger"
	"github.com/aesdlog/aesdlogd/internal/netfrontend"
	"github.com/aesdlog/aesdlogd/internal/persist"
)

const daemonEnvFlag = "AESDSOCKETD_DAEMON_CHILD"

func main() {
	var (
		port            int
		capacity        int
		timestampEvery  string
		maxCommandBytes int
		persistFile     string
		logLevel        string
		logFile         string
		configPath      string
		daemonize       bool
	)

	root := &cobra.Command{
		Use:   "aesdsocketd",
		Short: "Append-only command log daemon with a TCP front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("capacity") {
				cfg.Capacity = capacity
			}
			if cmd.Flags().Changed("timestamp-interval") {
				cfg.TimestampInterval = timestampEvery
			}
			if cmd.Flags().Changed("max-command-bytes") {
				cfg.MaxCommandBytes = maxCommandBytes
			}
			if cmd.Flags().Changed("persist-file") {
				cfg.PersistFile = persistFile
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-file") {
				cfg.LogFile = logFile
			}

			if daemonize && os.Getenv(daemonEnvFlag) == "" {
				return reexecDetached()
			}

			return run(cfg)
		},
	}

	root.Flags().IntVar(&port, "port", 0, "TCP port to listen on (default 9000 from config)")
	root.Flags().IntVar(&capacity, "capacity", 0, "ring log capacity in entries (default 10 from config)")
	root.Flags().StringVar(&timestampEvery, "timestamp-interval", "", "interval between injected timestamp entries, e.g. 10s")
	root.Flags().IntVar(&maxCommandBytes, "max-command-bytes", 0, "reject an assembled command larger than this many bytes (0 = unbounded)")
	root.Flags().StringVar(&persistFile, "persist-file", "", "mirror the log to this file (unset = memory-only)")
	root.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")
	root.Flags().StringVar(&logFile, "log-file", "", "additionally write logs to this file")
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().BoolVarP(&daemonize, "daemon", "d", false, "run detached from the controlling terminal")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aesdsocketd: %v\n", err)
		os.Exit(1)
	}
}

// reexecDetached re-launches the current binary with the same arguments and
// a marker environment variable, then exits. Go has no fork(); this is the
// idiomatic substitute for aesdsocket.c's fork()+setsid() daemonization.
func reexecDetached() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}

	child := exec.Command(exe, os.Args[1:]...)
	child.Env = append(os.Environ(), daemonEnvFlag+"=1")
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("daemonize: start child: %w", err)
	}
	return nil
}

func run(cfg config.Config) error {
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	surf := device.New(cfg.Capacity, cfg.MaxCommandBytes)

	var mirror netfrontend.Persister
	if cfg.PersistFile != "" {
		m, err := persist.Open(cfg.PersistFile)
		if err != nil {
			return fmt.Errorf("open persist file: %w", err)
		}
		defer m.Remove()
		mirror = m
	}

	front := netfrontend.New(cfg.Port, surf, cfg.Interval(), mirror)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("aesdsocketd starting", "port", cfg.Port, "capacity", cfg.Capacity)
	if err := front.Serve(ctx); err != nil {
		logger.Error("frontend exited with error", "err", err)
		return err
	}
	logger.Info("aesdsocketd shut down cleanly")
	return nil
}
