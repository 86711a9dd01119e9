package main

import (
	"fmt"
	"os"

	"github.com/shellpanel/shellpanel/internal/config"
	"github.com/shellpanel/shellpanel/internal/logging"
)

const Version = "0.4.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("ShellPanel v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "serve":
		handleServe(args[1:])
	case "attach":
		handleAttach(args[1:])
	case "sessions":
		handleSessions(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Usage: shellpanel <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve       Start the host daemon (shell sessions + control API)")
	fmt.Println("  attach      Attach a terminal panel to a running host")
	fmt.Println("  sessions    List recent sessions and known projects")
	fmt.Println("  version     Print the version")
	fmt.Println()
	fmt.Println("Run 'shellpanel <command> --help' for command options.")
}

// loadConfig reads ~/.shellpanel/config.toml (or SHELLPANEL_HOME) and
// exits on a malformed file.
func loadConfig() *config.UserConfig {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging initializes file logging from config. The returned
// func flushes on exit.
func setupLogging(cfg *config.UserConfig) func() {
	logDir := cfg.Logs.Dir
	if logDir == "" {
		logDir = config.Dir()
	}
	logging.Init(logging.Config{
		LogDir:     logDir,
		Level:      cfg.Logs.Level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 10,
		Compress:   true,
		Debug:      os.Getenv("SHELLPANEL_DEBUG") != "",
	})
	return logging.Shutdown
}
