package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Deskmate Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "OpenAI-compatible base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "API key (optional, enables images, voice and model classification)", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Chat model", cfg.LLM.Model)
		cfg.Google.AccessToken = prompt(scanner, "Google access token (optional, enables calendar and email)", cfg.Google.AccessToken)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.TimeZone = prompt(scanner, "Time zone", cfg.TimeZone)
		cfg.Session.Backend = prompt(scanner, "Session backend (memory, file, sqlite, redis)", cfg.Session.Backend)
		if cfg.Session.Backend == config.BackendRedis {
			cfg.Redis.Addr = prompt(scanner, "Redis address", cfg.Redis.Addr)
		}
		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config not saved: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
