package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/runtime"
	"github.com/user/deskmate/internal/types"
)

const cliSource = "cli"

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("user", os.Getenv("USER"), "user name for the local session")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = "local"
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		a.delivery.Register(cliSource+":", func(_ context.Context, _ types.UserID, reply types.Reply) error {
			fmt.Fprintf(out, "\n%s\n> ", reply.Text)
			return nil
		})
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer a.scheduler.Stop()

		return chatLoop(ctx, a.runtime, types.NewUserID(cliSource, user), cmd.InOrStdin(), out)
	},
}

func chatLoop(ctx context.Context, rt *runtime.Runtime, userID types.UserID, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Chatting as %s. Type /quit to leave.\n", userID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply := rt.HandleTurn(ctx, &types.InboundEvent{
			Source:    cliSource,
			UserID:    userID,
			Text:      text,
			Timestamp: time.Now(),
		})
		fmt.Fprintln(out, reply.Text)
		for _, img := range reply.Images {
			ref := img.URL
			if img.ArtifactID != "" {
				ref = "artifact " + string(img.ArtifactID)
			}
			fmt.Fprintf(out, "  [image: %s]\n", ref)
		}
	}
}
