package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/internal/manifest"
)

// NewManifestCommand creates the manifest command group.
func NewManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Create and check simulation manifests",
	}
	cmd.AddCommand(newManifestCreateCommand())
	cmd.AddCommand(newManifestCheckCommand())
	return cmd
}

func newManifestCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <path>",
		Short: "Write an empty manifest template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manifest.Template().Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created manifest %s\n", args[0])
			return nil
		},
	}
}

func newManifestCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a manifest without ingesting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			// Surface broken external metadata references too.
			if _, err := m.MetadataTree(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid manifest\n", args[0])
			return nil
		},
	}
}
