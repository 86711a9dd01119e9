package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shellpanel/shellpanel/internal/transport"
)

const (
	tableColName = 20
	tableColPath = 48
)

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	hostAddr := fs.String("host", "", "Host address, e.g. 127.0.0.1:8420 (default from config)")
	token := fs.String("token", "", "Bearer token (default from config)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: shellpanel sessions [options]")
		fmt.Println()
		fmt.Println("List recent sessions and known projects on the host.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
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

	api := transport.NewAPIClient("http://"+*hostAddr, *token)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recent, err := api.RecentSessions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to fetch sessions: %v\n", err)
		os.Exit(1)
	}
	projects, err := api.Projects(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to fetch projects: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(map[string]any{
			"sessions": recent,
			"projects": projects,
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to format JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(output))
		return
	}

	if len(recent) == 0 {
		fmt.Println("No recent sessions.")
	} else {
		fmt.Println("Recent sessions:")
		fmt.Printf("%-*s %-*s %s\n", tableColName, "NAME", tableColPath, "PATH", "LAST ACTIVE")
		for _, rec := range recent {
			fmt.Printf("%-*s %-*s %s\n",
				tableColName, truncate(rec.ProjectName, tableColName),
				tableColPath, truncate(rec.ProjectPath, tableColPath),
				rec.LastActiveAt.Local().Format("2006-01-02 15:04"))
		}
	}

	if len(projects) > 0 {
		fmt.Println()
		fmt.Println("Projects:")
		for _, proj := range projects {
			marker := " "
			if proj.Running {
				marker = "*"
			}
			fmt.Printf("  %s %-*s %s\n", marker, tableColName, truncate(proj.Name, tableColName), proj.Path)
		}
		fmt.Println()
		fmt.Println("* session running")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
