package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cwfork/internal/api"
	"cwfork/internal/config"
	"cwfork/internal/debug"
	"cwfork/internal/scenario"

	"github.com/spf13/cobra"
)

func newRunCmd(g *globals) *cobra.Command {
	var coverageOut string

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenario files against a fresh fork",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				// Every scenario gets its own fork
				n, err := runScenario(ctx, cfg, sc, g.color, coverageOut)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				failed += n
			}
			if failed > 0 {
				return fmt.Errorf("%d step(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&coverageOut, "coverage-out", "", "Write coverage buffers as JSON to this file")
	return cmd
}

func runScenario(ctx context.Context, cfg *config.Config, sc *scenario.Scenario, color bool, coverageOut string) (int, error) {
	s, err := openSession(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer s.Close(context.Background())

	if coverageOut != "" {
		s.model.EnableCodeCoverage()
	}

	slog.Info("🚀 Running scenario", "name", sc.Name, "steps", len(sc.Steps), "session", s.model.SessionID())
	report, err := scenario.NewRunner(s.model).Run(ctx, sc)
	if err != nil {
		return 0, err
	}

	out := os.Stdout
	for _, step := range report.Steps {
		status := "✅"
		if !step.Passed() {
			status = "❌"
		}
		fmt.Fprintf(out, "%s step %d %s (%s)\n", status, step.Index, step.Name, step.Kind)
		switch {
		case step.Result != nil:
			if err := debug.WriteResult(out, step.Result, color); err != nil {
				return 0, err
			}
		case step.Err != nil:
			fmt.Fprintf(out, "error: %v\n", step.Err)
		case len(step.Data) > 0:
			fmt.Fprintf(out, "data:\n%s\n", debug.FormatJSON(step.Data, color))
		}
		if !step.Passed() {
			fmt.Fprintf(out, "mismatch: %s\n", step.Mismatch)
		}
	}

	if coverageOut != "" {
		raw, err := json.Marshal(s.model.Coverage())
		if err != nil {
			return 0, fmt.Errorf("failed to encode coverage: %w", err)
		}
		if err := os.WriteFile(coverageOut, raw, 0o644); err != nil {
			return 0, fmt.Errorf("failed to write coverage: %w", err)
		}
	}
	return report.Failed(), nil
}

func newQueryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "query <contract> <json-msg>",
		Short: "Run one smart query against the fork",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			res, err := s.model.QueryResult(ctx, args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			debug.PrintResult(res)
			if res.Failed() {
				return fmt.Errorf("%s: %s", res.ErrKind(), res.ErrMsg())
			}
			fmt.Fprintln(os.Stdout, debug.FormatJSON(res.Data(), g.color))
			return nil
		},
	}
}

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API over a fork",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			server := api.NewServer(cfg.APIPort, s.model)
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start API server: %w", err)
			}

			<-ctx.Done()
			slog.Warn("Interrupt received, shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("Error stopping API server", "error", err)
			}
			slog.Info("Server stopped")
			return nil
		},
	}
}
