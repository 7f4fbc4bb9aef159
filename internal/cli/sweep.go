package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/ganaudit/ganauditd/internal/config"
	"github.com/ganaudit/ganauditd/internal/history"
	"github.com/ganaudit/ganauditd/internal/judgectx"
	"github.com/ganaudit/ganauditd/internal/session"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [session-id]",
	Short: "Terminate and remove a session, or sweep all sessions older than --max-age",
	Long: `sweep force-terminates a session's judge context (if one is active)
and deletes its persisted state.

With a session ID, a single session is removed. Without one, every
session older than --max-age is removed.

Examples:
  ganauditd sweep 3f9a2b6c1d8e4f01
  ganauditd sweep --max-age 168h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")
	sweepCmd.Flags().Duration("max-age", 0, "remove sessions untouched for longer than this (bulk mode only)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := session.NewStore(cfg.Session.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	ctxmgr := judgectx.NewManager(cfg.Judge.Executable, log.Default(), cfg.Judge.ExtraArgs...)

	if len(args) == 0 {
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		if maxAge <= 0 {
			maxAge = cfg.Session.MaxAge
		}
		removed, err := store.Sweep(maxAge)
		if err != nil {
			return fmt.Errorf("failed to sweep sessions: %w", err)
		}
		fmt.Printf("Removed %d session(s) older than %s.\n", len(removed), maxAge)

		compacted, err := compactSurvivingSessions(store, cfg)
		if err != nil {
			return fmt.Errorf("failed to compact surviving sessions: %w", err)
		}
		fmt.Printf("Compacted %d session(s); history store now tracks %s.\n", compacted.Sessions, formatBytes(compacted.TotalBytes))
		return nil
	}

	sessionID := args[0]
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		fmt.Printf("This will terminate and remove session %s.\n", sessionID)
		fmt.Print("Are you sure? [y/N]: ")
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	state := store.Load(sessionID).State
	if state.LoopID != "" && state.JudgeContextActive {
		ctxmgr.Restore(state.LoopID, state.JudgeContextID)
		ctxmgr.Terminate(context.Background(), state.LoopID, judgectx.ReasonManual)
	}

	if err := store.Delete(sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Println("Session removed.")
	return nil
}

// compactSurvivingSessions runs the same hot/cold optimization pass C8 runs
// after every Process call against every session still on disk, in case a
// session hasn't been touched in a while and its hot list has grown stale
// without a triggering call to shrink it. Changed sessions are re-saved.
func compactSurvivingSessions(store *session.Store, cfg *config.Config) (history.Stats, error) {
	ids, err := store.ListAll()
	if err != nil {
		return history.Stats{}, err
	}

	h := history.New(history.Limits{
		CompressionAge:        cfg.History.CompressionAge,
		CompressionThreshold:  cfg.History.CompressionThreshold,
		MaxIterationsInMemory: cfg.History.MaxIterationsInMemory,
		MaxMemoryUsage:        cfg.History.MaxMemoryUsageBytes,
	})

	for _, id := range ids {
		state := store.Load(id).State
		h.Sync(id, state.HotIterations, state.ColdIterations)
		h.Optimize(id)

		hot, cold := h.Export(id)
		if len(hot) == len(state.HotIterations) && len(cold) == len(state.ColdIterations) {
			continue
		}
		state.HotIterations = hot
		state.ColdIterations = cold
		if err := store.Save(state); err != nil {
			return history.Stats{}, fmt.Errorf("save compacted session %s: %w", id, err)
		}
	}

	h.EmergencyCleanup()
	return h.Stats(), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
