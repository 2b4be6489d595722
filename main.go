// Package main provides the gantry TUI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/threadworks/gantry/app"
	"github.com/threadworks/gantry/config"
	"github.com/threadworks/gantry/dispatch"
	"github.com/threadworks/gantry/orchestrator"
	"github.com/threadworks/gantry/protocol"
	"github.com/threadworks/gantry/runmodel"
)

var (
	configFlag string
	threadFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Terminal chat UI for an orchestrator agent service",
	Long: `A terminal UI that drives a remote orchestrator (run/thread/assistant API)
over HTTP and SSE. Messages, tool activity and the agent's task plan stream
into separate panes as the run executes.

Environment:
  GANTRY_BASE_URL      Orchestrator base URL
  GANTRY_API_KEY       API key sent as x-api-key
  GANTRY_ASSISTANT_ID  Assistant executed by new runs
  GANTRY_THREAD_ID     Resume an existing thread`,
	RunE: runTUI,
}

var cronsCmd = &cobra.Command{
	Use:   "crons",
	Short: "Manage scheduled runs",
}

var cronsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := buildClient()
		if err != nil {
			return err
		}
		crons, err := client.SearchCrons(cmd.Context(), 100, 0)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULE\tASSISTANT\tNEXT RUN")
		for _, c := range crons {
			next := "-"
			if !c.NextRunDate.IsZero() {
				next = c.NextRunDate.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.CronID, c.Schedule, c.AssistantID, next)
		}
		return w.Flush()
	},
}

var cronsCreateCmd = &cobra.Command{
	Use:   "create <schedule>",
	Short: "Schedule a recurring run (cron syntax)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := buildClient()
		if err != nil {
			return err
		}
		created, err := client.CreateCron(cmd.Context(), orchestrator.Cron{
			AssistantID: cfg.AssistantID,
			Schedule:    args[0],
		})
		if err != nil {
			return err
		}
		fmt.Println(created.CronID)
		return nil
	},
}

var cronsDeleteCmd = &cobra.Command{
	Use:   "delete <cron-id>",
	Short: "Delete a scheduled run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := buildClient()
		if err != nil {
			return err
		}
		return client.DeleteCron(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file path (default ~/.config/gantry/config.yaml)")
	rootCmd.Flags().StringVar(&threadFlag, "thread", "", "Thread ID to resume")
	cronsCmd.AddCommand(cronsListCmd, cronsCreateCmd, cronsDeleteCmd)
	rootCmd.AddCommand(cronsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func buildClient() (*orchestrator.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return orchestrator.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout.Std()), cfg, nil
}

// setupLogger routes slog to the configured file. The TUI owns stdout, so
// logs never go there.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return log, func() { f.Close() }, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("gantry requires a terminal; use 'gantry crons' for scripted access")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	client := orchestrator.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout.Std())

	threadID := threadFlag
	if threadID == "" {
		threadID = cfg.ThreadID
	}
	if threadID == "" {
		thread, err := client.CreateThread(ctx, map[string]interface{}{"client": "gantry"})
		if err != nil {
			return fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ThreadID
		log.Info("created thread", "thread_id", threadID)
	}

	run := runmodel.New(log)

	// Hydrate prior history when resuming a thread. Failure is non-fatal:
	// the conversation continues, it just starts blank.
	if msgs, values, err := client.HydrateThread(ctx, threadID); err == nil {
		run.HydrateMessages(msgs)
		run.Apply(protocol.ValuesEvent{Values: values})
	} else {
		log.Warn("thread hydration failed", "thread_id", threadID, "error", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Model: run,
		Opener: &orchestrator.StreamOpener{
			Client:      client,
			ThreadID:    threadID,
			AssistantID: cfg.AssistantID,
			Log:         log,
		},
		Logger: log,
	})

	model := app.NewModel(ctx, run, dispatcher, client, threadID)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
