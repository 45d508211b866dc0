package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configValidateCmd, configPathCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print tokens and keys unmasked")
	configGetCmd.ValidArgsFunction = completeKey
	configSetCmd.ValidArgsFunction = completeKey
}

func completeKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var keys []string
	for _, k := range config.Keys() {
		if strings.HasPrefix(k, toComplete) {
			keys = append(keys, k)
		}
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration file",
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List configuration values, optionally only keys under a prefix such as llm",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		show, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(cfg, !show)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".") + "."
		}
		out := cmd.OutOrStdout()
		for _, k := range slices.Sorted(maps.Keys(values)) {
			if prefix != "" && !strings.HasPrefix(k, prefix) {
				continue
			}
			fmt.Fprintf(out, "%s = %v\n", k, values[k])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		val, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		if config.IsSecretKey(key) {
			val = config.Mask(val)
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one configuration value",
	Long: "Change one configuration value. Values are parsed as JSON when possible, so\n" +
		"`deskmate config set session.window 30` stores a number and\n" +
		"`deskmate config set llm.classify false` stores a boolean.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		if config.IsSecretKey(key) {
			value = fmt.Sprint(config.Mask(value))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)

		// Problems the file already had are reported, not fatal.
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK.")
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	},
}
