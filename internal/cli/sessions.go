package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ganaudit/ganauditd/internal/config"
	"github.com/ganaudit/ganauditd/internal/history"
	"github.com/ganaudit/ganauditd/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "Inspect persisted audit sessions",
	Long: `Inspect audit sessions persisted under the session state directory.

Without arguments, lists every session on disk. With a session ID,
shows its current loop, completion state, and recent failure log.

Examples:
  ganauditd sessions
  ganauditd sessions 3f9a2b6c1d8e4f01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := session.NewStore(cfg.Session.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	if len(args) == 0 {
		return listAllSessions(store)
	}
	return showSession(store, cfg, args[0])
}

func listAllSessions(store *session.Store) error {
	ids, err := store.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	sort.Strings(ids)

	fmt.Printf("%-20s %-8s %-10s %-10s %s\n", "SESSION", "LOOP", "COMPLETE", "REASON", "UPDATED")
	fmt.Println(strings.Repeat("-", 70))
	for _, id := range ids {
		s := store.Load(id).State
		fmt.Printf("%-20s %-8d %-10t %-10s %s\n",
			s.ID, s.CurrentLoop, s.IsComplete, s.CompletionReason, s.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Printf("\n%d session(s) found.\n", len(ids))
	return nil
}

func showSession(store *session.Store, cfg *config.Config, id string) error {
	result := store.Load(id)
	s := result.State

	fmt.Printf("Session: %s\n", s.ID)
	if s.LoopID != "" {
		fmt.Printf("Loop context: %s (active: %t)\n", s.LoopID, s.JudgeContextActive)
	}
	fmt.Printf("Current loop: %d\n", s.CurrentLoop)
	fmt.Printf("Complete: %t\n", s.IsComplete)
	if s.CompletionReason != "" {
		fmt.Printf("Completion reason: %s\n", s.CompletionReason)
	}
	fmt.Printf("Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.StagnationInfo != nil && s.StagnationInfo.Detected {
		fmt.Printf("Stagnation detected (average similarity: %.2f)\n", s.StagnationInfo.AverageSimilarity)
	}

	h := history.New(history.Limits{
		CompressionAge:        cfg.History.CompressionAge,
		CompressionThreshold:  cfg.History.CompressionThreshold,
		MaxIterationsInMemory: cfg.History.MaxIterationsInMemory,
		MaxMemoryUsage:        cfg.History.MaxMemoryUsageBytes,
	})
	h.Sync(id, s.HotIterations, s.ColdIterations)
	full := h.Materialize(id)
	fmt.Printf("Iterations: %d hot, %d cold, %d total\n", len(s.HotIterations), len(s.ColdIterations), len(full))

	if len(s.FailureLog) > 0 {
		fmt.Printf("\nFailure log (%d entries):\n", len(s.FailureLog))
		for _, f := range s.FailureLog {
			fmt.Printf("  thought %d [%s]: %s\n", f.ThoughtNumber, f.ErrorKind, f.Message)
		}
	}
	if result.Warning != "" {
		fmt.Printf("warning: %s\n", result.Warning)
	}
	return nil
}
