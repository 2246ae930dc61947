package main

import (
	"encoding/json"
	"fmt"
	"io"

	"docchat/internal/config"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the config file by dot path",
		Long: `Paths follow the JSON keys, e.g. ai.model or ai.formats.excel.temperature.
Secrets are masked on output. 'set' validates before saving.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <path>",
			Short: "Print one value or section",
			Args:  cobra.ExactArgs(1),
			RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config, args []string) error {
				v, err := config.GetByPath(config.Sanitize(cfg), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			}),
		},
		&cobra.Command{
			Use:   "set <path> <value>",
			Short: "Change one value; lists are comma separated",
			Args:  cobra.ExactArgs(2),
			RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config, args []string) error {
				if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
					return err
				}
				if err := config.Validate(cfg); err != nil {
					return err
				}
				file := resolveConfigPath()
				if err := config.Save(file, cfg); err != nil {
					return fmt.Errorf("save %s: %w", file, err)
				}
				logger.Info("config updated", "key", args[0], "file", file)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print every leaf value by path",
			Args:  cobra.NoArgs,
			RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config, _ []string) error {
				return printJSON(cmd.OutOrStdout(), config.ListPaths(config.Sanitize(cfg)))
			}),
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
			},
		},
	)
	return cmd
}

// withConfig runs fn with the config file loaded. A missing file is an error.
func withConfig(fn func(*cobra.Command, *config.Config, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return fn(cmd, cfg, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
