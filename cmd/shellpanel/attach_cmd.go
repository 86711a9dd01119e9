package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/shellpanel/shellpanel/internal/config"
	"github.com/shellpanel/shellpanel/internal/panel"
	"github.com/shellpanel/shellpanel/internal/protocol"
	"github.com/shellpanel/shellpanel/internal/store"
	"github.com/shellpanel/shellpanel/internal/transport"
)

// Ctrl+Q detaches without killing the session.
const detachKey = 0x11

func handleAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	hostAddr := fs.String("host", "", "Host address, e.g. 127.0.0.1:8420 (default from config)")
	token := fs.String("token", "", "Bearer token (default from config)")
	project := fs.String("project", "", "Project path to select on connect")

	fs.Usage = func() {
		fmt.Println("Usage: shellpanel attach [options]")
		fmt.Println()
		fmt.Println("Attach this terminal to a running host. With no --project the")
		fmt.Println("most recent session is resumed automatically (when enabled in")
		fmt.Println("config). Detach with Ctrl+Q; the session keeps running.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  shellpanel attach")
		fmt.Println("  shellpanel attach --project ~/projects/my-app")
		fmt.Println("  shellpanel attach --host 127.0.0.1:9000 --token s3cret")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg := loadConfig()
	if *hostAddr == "" {
		*hostAddr = cfg.Server.Listen
	}
	if *token == "" {
		*token = cfg.Server.Token
	}
	projectPath := *project
	if projectPath != "" {
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to resolve project path: %v\n", err)
			os.Exit(1)
		}
		projectPath = abs
	}

	shutdownLogs := setupLogging(cfg)
	defer shutdownLogs()

	// Tab layouts persist locally so they survive detach and restart.
	var tabStore panel.TabStore
	st, err := store.Open(filepath.Join(config.Dir(), "state.db"))
	if err == nil {
		if err := st.Migrate(); err == nil {
			tabStore = st
		}
		defer st.Close()
	}

	api := transport.NewAPIClient("http://"+*hostAddr, *token)

	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)

	var p *panel.Panel
	sendSize := func() {
		if !interactive {
			return
		}
		if cols, rows, err := term.GetSize(fd); err == nil {
			_ = p.Resize(cols, rows)
		}
	}

	client := transport.NewClient(transport.Config{
		URL:   "ws://" + *hostAddr + "/ws/panel",
		Token: *token,
		Handler: func(ev protocol.Event) {
			p.HandleEvent(ev)
			if ev.Type == protocol.EventSessionReady {
				sendSize()
			}
		},
	})

	selected := false
	opts := panel.Options{
		Sender:   client,
		TabStore: tabStore,
		OnStateChange: func(state panel.ConnState) {
			fmt.Fprintf(os.Stderr, "\r\n[shellpanel] %s\r\n", state)
			if state == panel.StateConnected && projectPath != "" && !selected {
				selected = true
				if err := p.SelectProject(projectPath); err != nil {
					fmt.Fprintf(os.Stderr, "\r\n[shellpanel] select failed: %v\r\n", err)
				}
			}
		},
		OnError: func(message string) {
			fmt.Fprintf(os.Stderr, "\r\n[shellpanel] %s\r\n", message)
		},
		OnOutput: func(channel string, data []byte) {
			if active, ok := p.Tabs().Active(); ok && active.Channel != channel {
				return
			}
			_, _ = os.Stdout.Write(data)
		},
	}
	// Bootstrap auto-resume only applies when no explicit project was
	// requested.
	if projectPath == "" {
		opts.Settings = api
		opts.History = api
	}
	p = panel.New(opts)

	var restore func()
	if interactive {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to enter raw mode: %v\n", err)
			os.Exit(1)
		}
		restore = func() { _ = term.Restore(fd, oldState) }
		defer restore()
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			sendSize()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		<-sigChan
		if restore != nil {
			restore()
		}
		client.Close()
		os.Exit(0)
	}()

	p.Start()
	go client.Run()

	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			break
		}
		if n == 1 && buf[0] == detachKey {
			break
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if err := p.SendInput(chunk); err != nil && !errors.Is(err, panel.ErrNoSession) {
			fmt.Fprintf(os.Stderr, "\r\n[shellpanel] input failed: %v\r\n", err)
		}
	}

	client.Close()
	p.Close()
	fmt.Fprint(os.Stderr, "\r\n[shellpanel] detached\r\n")
}
