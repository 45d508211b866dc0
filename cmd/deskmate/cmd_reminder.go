package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

func init() {
	rootCmd.AddCommand(reminderCmd)
	reminderCmd.AddCommand(reminderListCmd, reminderRemoveCmd)
	reminderListCmd.Flags().Bool("all", false, "include delivered reminders")
}

func reminderStore() *state.ReminderStore {
	return state.NewReminderStore(remindersPath(loadConfig()))
}

var reminderCmd = &cobra.Command{
	Use:   "reminder",
	Short: "Manage scheduled reminders",
}

var reminderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := reminderStore()
		all, _ := cmd.Flags().GetBool("all")

		var (
			reminders []*state.Reminder
			err       error
		)
		if all {
			reminders, err = store.List()
		} else {
			reminders, err = store.Pending()
		}
		if err != nil {
			return fmt.Errorf("list reminders: %w", err)
		}

		if len(reminders) == 0 {
			fmt.Println("No reminders scheduled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tDUE\tDELIVERED\tTEXT")
		for _, r := range reminders {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				r.ID,
				r.UserID,
				r.At.Local().Format(timeLayout),
				r.Delivered,
				r.Text,
			)
		}
		return w.Flush()
	},
}

var reminderRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := reminderStore()
		if err := store.Remove(types.ReminderID(args[0])); err != nil {
			if errors.Is(err, state.ErrReminderNotFound) {
				return fmt.Errorf("reminder not found: %s", args[0])
			}
			return fmt.Errorf("remove reminder: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Reminder %s removed. A running daemon picks this up within a minute.\n", args[0])
		return nil
	},
}
