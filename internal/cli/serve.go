package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ganaudit/ganauditd/internal/config"
	"github.com/ganaudit/ganauditd/internal/engine"
	"github.com/ganaudit/ganauditd/internal/obslog"
	"github.com/ganaudit/ganauditd/internal/thought"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit loop over stdio",
	Long: `serve reads one JSON thought per line from stdin and writes one JSON
response per line to stdout, running each submission through the audit
engine until the caller's session completes, stagnates, or hits its
loop budget.

Example:
  ganauditd serve --repo .`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("repo", ".", "repository root the context pack is built from")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "received interrupt signal, shutting down")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	repoDir, _ := cmd.Flags().GetString("repo")

	logger := obslog.New("ganauditd", obslog.EnvSecondarySink())
	defer logger.Close()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "ganauditd serving from %s (judge: %s)\n", repoDir, cfg.Judge.Executable)
	}

	return serveLoop(ctx, eng, repoDir, os.Stdin, os.Stdout)
}

func serveLoop(ctx context.Context, eng *engine.Engine, repoDir string, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var t thought.Thought
		if err := json.Unmarshal(line, &t); err != nil {
			if encErr := enc.Encode(map[string]string{"error": fmt.Sprintf("malformed request: %v", err)}); encErr != nil {
				return encErr
			}
			continue
		}

		resp, err := eng.Process(ctx, repoDir, t)
		if err != nil {
			if encErr := enc.Encode(map[string]string{"error": err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	return scanner.Err()
}

