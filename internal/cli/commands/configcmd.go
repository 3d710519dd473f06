package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/internal/cli/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write the configuration file",
		Long: `Manage the SimDB configuration file. Keys are dotted paths, e.g.
database.file or remotes.itervault.url.`,
	}
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigDeleteCommand())
	cmd.AddCommand(newConfigListCommand())
	return cmd
}

// cfgFileFlag pulls the root --config flag so the config subcommands
// edit the same file the rest of the CLI reads.
func cfgFileFlag(cmd *cobra.Command) string {
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil {
		return f.Value.String()
	}
	return ""
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.Get(cfgFileFlag(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one configuration value",
		Example: `  simdb config set database.file ~/.simdb/simdb.db
  simdb config set remotes.itervault.url https://simdb.example.org
  simdb config set default_remote itervault`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Set(cfgFileFlag(cmd), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func newConfigDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Delete(cfgFileFlag(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}

func newConfigListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every key set in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, keys, err := config.List(cfgFileFlag(cmd))
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, values[key])
			}
			return nil
		},
	}
}
