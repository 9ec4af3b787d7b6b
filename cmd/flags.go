package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/taskhost/internal/config"
	"github.com/zjrosen/taskhost/internal/flags"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "List feature flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg := flags.New(cfg.Flags)
		out := cmd.OutOrStdout()
		for _, name := range sortedKeys(flags.Known) {
			state := "off"
			if reg.Enabled(name) {
				state = "on"
			}
			fmt.Fprintf(out, "%-22s %-3s  %s\n", name, state, flags.Known[name])
		}
		for _, name := range reg.Unknown() {
			fmt.Fprintf(out, "%-22s %-3s  (unknown)\n", name, strconv.FormatBool(reg.Enabled(name)))
		}
		return nil
	},
}

var flagsSetCmd = &cobra.Command{
	Use:   "set <name> <true|false>",
	Short: "Turn a feature flag on or off in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if _, ok := flags.Known[name]; !ok {
			return fmt.Errorf("unknown flag %q", name)
		}
		on, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("flag value: %w", err)
		}

		values := maps.Clone(cfg.Flags)
		if values == nil {
			values = map[string]bool{}
		}
		values[name] = on

		path := configFilePath()
		if err := config.SaveFlags(path, values); err != nil {
			return err
		}
		cfg.Flags = values
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%t saved to %s\n", name, on, path)
		return nil
	},
}

func init() {
	flagsCmd.AddCommand(flagsSetCmd)
	rootCmd.AddCommand(flagsCmd)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
