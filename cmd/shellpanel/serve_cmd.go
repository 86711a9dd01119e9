package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shellpanel/shellpanel/internal/config"
	"github.com/shellpanel/shellpanel/internal/host"
	"github.com/shellpanel/shellpanel/internal/store"
)

const shutdownTimeout = 5 * time.Second

// watcherSettings adapts the live config watcher to the host's
// settings surface, so auto_reconnect edits apply without a restart.
type watcherSettings struct {
	watcher *config.Watcher
}

func (w watcherSettings) AutoReconnect() bool {
	return w.watcher.Current().Panel.AutoReconnect
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address (overrides config)")
	token := fs.String("token", "", "Bearer token for API/WS access (overrides config)")
	projectsDir := fs.String("projects-dir", "", "Directory scanned for project listings (overrides config)")
	shell := fs.String("shell", "", "Shell launched per channel (overrides config)")

	fs.Usage = func() {
		fmt.Println("Usage: shellpanel serve [options]")
		fmt.Println()
		fmt.Println("Start the host daemon. Shell sessions survive panel disconnects;")
		fmt.Println("panels attach over a single websocket at /ws/panel.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  shellpanel serve")
		fmt.Println("  shellpanel serve --listen 127.0.0.1:9000 --token s3cret")
		fmt.Println("  shellpanel serve --projects-dir ~/projects")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	cfg := loadConfig()
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *token != "" {
		cfg.Server.Token = *token
	}
	if *projectsDir != "" {
		cfg.Server.ProjectsDir = *projectsDir
	}
	if *shell != "" {
		cfg.Server.Shell = *shell
	}

	shutdownLogs := setupLogging(cfg)
	defer shutdownLogs()

	st, err := store.Open(filepath.Join(config.Dir(), "state.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to migrate state store: %v\n", err)
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(config.Path(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to watch config: %v\n", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	server := host.NewServer(host.Config{
		ListenAddr:  cfg.Server.Listen,
		Token:       cfg.Server.Token,
		ProjectsDir: cfg.Server.ProjectsDir,
		Shell:       cfg.Server.Shell,
		Settings:    watcherSettings{watcher: watcher},
	}, st)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		}
	}()

	fmt.Printf("ShellPanel host listening on http://%s\n", cfg.Server.Listen)
	if cfg.Server.Token == "" {
		fmt.Println("Warning: no token configured; the API is open to local clients")
	}

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
