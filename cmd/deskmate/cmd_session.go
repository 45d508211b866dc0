package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)
	sessionShowCmd.Flags().Int("events", 10, "number of journal entries to show")
}

const timeLayout = "2006-01-02 15:04:05"

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage conversation sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		sessions, closeFn, err := newSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}
		events := state.NewEventStore(cfg.DataDir)

		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tTURNS\tPENDING\tEVENTS\tUPDATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.UserID)
			if err != nil {
				count = 0
			}
			pending := "-"
			if s.Pending != nil {
				pending = fmt.Sprintf("%s/%s", s.Pending.Intent, s.Pending.Slot)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
				s.UserID,
				len(s.Turns),
				pending,
				count,
				s.UpdatedAt.Format(timeLayout),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a session's turns and recent journal entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		sessions, closeFn, err := newSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}

		userID := types.UserID(args[0])
		sess, err := sessions.Get(ctx, userID)
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		fmt.Printf("User:      %s\n", sess.UserID)
		fmt.Printf("Time zone: %s\n", sess.Location())
		fmt.Printf("Created:   %s\n", sess.CreatedAt.Format(timeLayout))
		fmt.Printf("Updated:   %s\n", sess.UpdatedAt.Format(timeLayout))
		if p := sess.Pending; p != nil {
			fmt.Printf("Pending:   %s, waiting on %s (retries %d)\n", p.Intent, p.Slot, p.Retries)
		}

		fmt.Println()
		for _, t := range sess.Turns {
			fmt.Printf("[%s] %s: %s\n", t.At.Format(timeLayout), t.Role, t.Text)
		}

		limit, _ := cmd.Flags().GetInt("events")
		if limit <= 0 {
			return nil
		}
		tail, err := state.NewEventStore(cfg.DataDir).Tail(ctx, userID, limit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(tail) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tSOURCE\tAT")
		for _, e := range tail {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Seq, e.Type, e.Source, e.At.Format(timeLayout))
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <user-id|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		sessions, closeFn, err := newSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}
		events := state.NewEventStore(cfg.DataDir)

		var targets []types.UserID
		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				targets = append(targets, s.UserID)
			}
		} else {
			userID := types.UserID(args[0])
			if _, err := sessions.Get(ctx, userID); errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			targets = append(targets, userID)
		}

		for _, userID := range targets {
			if err := sessions.Reset(ctx, userID); err != nil {
				return fmt.Errorf("clear session %s: %w", userID, err)
			}
			if err := events.Reset(ctx, userID); err != nil {
				return fmt.Errorf("clear journal %s: %w", userID, err)
			}
		}

		if args[0] == "all" {
			fmt.Printf("%d sessions cleared.\n", len(targets))
		} else {
			fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		}
		return nil
	},
}
