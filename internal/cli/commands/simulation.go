package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/internal/ingest"
	"github.com/simdb-io/simdb/internal/manifest"
	"github.com/simdb-io/simdb/internal/refval"
	"github.com/simdb-io/simdb/pkg/core"
)

// NewSimulationCommand creates the simulation command group.
func NewSimulationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "simulation",
		Aliases: []string{"sim"},
		Short:   "Manage simulations in the local store",
	}
	cmd.AddCommand(newSimulationNewCommand())
	cmd.AddCommand(newSimulationIngestCommand())
	cmd.AddCommand(newSimulationListCommand())
	cmd.AddCommand(newSimulationInfoCommand())
	cmd.AddCommand(newSimulationModifyCommand())
	cmd.AddCommand(newSimulationDeleteCommand())
	cmd.AddCommand(newSimulationQueryCommand())
	cmd.AddCommand(newSimulationAliasCommand())
	cmd.AddCommand(newSimulationProvenanceCommand())
	cmd.AddCommand(newSimulationPushCommand())
	cmd.AddCommand(newSimulationPullCommand())
	cmd.AddCommand(newSimulationValidateCommand())
	return cmd
}

func newSimulationNewCommand() *cobra.Command {
	var alias string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty simulation record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.Store.CreateSimulation(ctx)
			if err != nil {
				return err
			}
			if alias != "" {
				if err := cmdCtx.Store.AssignAlias(ctx, id, alias); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "Alias to assign to the new simulation")
	return cmd
}

func newSimulationIngestCommand() *cobra.Command {
	var into string
	cmd := &cobra.Command{
		Use:   "ingest <manifest>",
		Short: "Ingest a simulation from a manifest file",
		Long: `Read a YAML manifest, checksum the files it references and record
the simulation with its metadata, inputs and outputs. With --into the
manifest is merged into an existing simulation instead of creating a
new one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			engine := ingest.New(cmdCtx.Store, checksum.NoopLocator{}, cmdCtx.Logger)
			if into != "" {
				id, err := cmdCtx.resolveLocal(ctx, into)
				if err != nil {
					return err
				}
				if err := engine.IngestInto(ctx, id, m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged %s into %s\n", args[0], id)
				return nil
			}

			id, err := engine.Ingest(ctx, m)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "Merge into an existing simulation (UUID, alias or prefix)")
	return cmd
}

func newSimulationListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List simulations in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sims, err := cmdCtx.Store.ListSimulations(cmd.Context())
			if err != nil {
				return err
			}
			renderSimulations(cmd.OutOrStdout(), sims)
			return nil
		},
	}
}

func newSimulationInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <simulation>",
		Short: "Show the full record of one simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}
			sim, err := cmdCtx.Store.GetSimulation(ctx, id)
			if err != nil {
				return err
			}
			renderSimulation(cmd.OutOrStdout(), sim)
			return nil
		},
	}
}

func newSimulationModifyCommand() *cobra.Command {
	var metaArgs []string
	var alias string
	cmd := &cobra.Command{
		Use:   "modify <simulation>",
		Short: "Set metadata elements or the alias of a simulation",
		Example: `  # Set two metadata elements
  simdb simulation modify fusion-run-42 --meta device=iter --meta scenario=baseline

  # Move the alias; the old one stops resolving
  simdb simulation modify fusion-run-42 --alias fusion-run-43`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}

			entries := make(map[string]string, len(metaArgs))
			for _, arg := range metaArgs {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("bad metadata assignment %q: expected key=value", arg)
				}
				entries[key] = value
			}
			if len(entries) == 0 && alias == "" {
				return fmt.Errorf("nothing to modify: pass --meta key=value or --alias")
			}

			if alias != "" {
				if err := cmdCtx.Store.AssignAlias(ctx, id, alias); err != nil {
					return err
				}
			}
			if len(entries) > 0 {
				if err := cmdCtx.Store.PutMetadata(ctx, id, entries); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&metaArgs, "meta", nil, "Metadata assignment key=value (repeatable)")
	cmd.Flags().StringVar(&alias, "alias", "", "New alias for the simulation")
	return cmd
}

func newSimulationDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <simulation>",
		Short: "Delete a simulation from the local store",
		Long: `Delete a simulation, its metadata and its file references. File
records shared with other simulations survive; published simulations
cannot be deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}
			if err := cmdCtx.Store.DeleteSimulation(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			return nil
		},
	}
}

func newSimulationQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <constraint>...",
		Short: "Query the local store by metadata",
		Long: `Find simulations whose metadata satisfies every constraint.
Constraints take the form key=value (exact, case-insensitive) or
key~value (substring).`,
		Example: `  simdb simulation query device=iter scenario~base`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			constraints, err := parseConstraints(args)
			if err != nil {
				return err
			}
			sims, err := cmdCtx.Store.QueryAll(cmd.Context(), constraints)
			if err != nil {
				return err
			}
			renderSimulations(cmd.OutOrStdout(), sims)
			return nil
		},
	}
}

func newSimulationAliasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <simulation> <alias>",
		Short: "Assign or move an alias",
		Long: `Point an alias at a simulation. An alias held by a deprecated
simulation may be stolen; one held by a live simulation may not.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}
			if err := cmdCtx.Store.AssignAlias(ctx, id, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[1], id)
			return nil
		},
	}
}

func newSimulationProvenanceCommand() *cobra.Command {
	var addArgs []string
	cmd := &cobra.Command{
		Use:   "provenance <simulation>",
		Short: "Show or extend the provenance trail of a simulation",
		Long: `Print the append-only provenance records of a simulation. With
--add key=value, append a record instead. Provenance is never
rewritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}

			if len(addArgs) > 0 {
				for _, arg := range addArgs {
					key, value, ok := strings.Cut(arg, "=")
					if !ok {
						return fmt.Errorf("bad provenance record %q: expected key=value", arg)
					}
					if err := cmdCtx.Store.AddProvenance(ctx, id, key, value); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d provenance entries on %s\n", len(addArgs), id)
				return nil
			}

			entries, err := cmdCtx.Store.GetProvenance(ctx, id)
			if err != nil {
				return err
			}
			renderProvenance(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&addArgs, "add", nil, "Provenance record key=value to append (repeatable)")
	return cmd
}

func newSimulationPushCommand() *cobra.Command {
	var remoteName, replaces string
	cmd := &cobra.Command{
		Use:   "push <simulation>",
		Short: "Push a simulation to a remote",
		Long: `Send the simulation record and its file payloads to a remote.
A push interrupted part-way can simply be re-run; payloads the remote
already holds complete are skipped. With --replaces the named published
simulation is deprecated when this one is later published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}

			sync := cmdCtx.newSyncer()
			err = withNetworkRetry(ctx, func(ctx context.Context) error {
				if replaces != "" {
					oldID, err := cmdCtx.resolveLocal(ctx, replaces)
					if err != nil {
						return err
					}
					return sync.PushReplaces(ctx, client, name, id, oldID)
				}
				return sync.Push(ctx, client, name, id)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s to %s\n", id, name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&remoteName, "remote", "r", "", "Remote to push to (default: configured default_remote)")
	cmd.Flags().StringVar(&replaces, "replaces", "", "Published simulation this one replaces")
	return cmd
}

func newSimulationPullCommand() *cobra.Command {
	var remoteName, dest string
	cmd := &cobra.Command{
		Use:   "pull <simulation>",
		Short: "Pull a simulation from a remote",
		Long: `Copy a remote simulation into the local store, preserving its UUID,
and download its file payloads under the destination directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			sync := cmdCtx.newSyncer()
			var id uuid.UUID
			err = withNetworkRetry(ctx, func(ctx context.Context) error {
				pulled, err := sync.Pull(ctx, client, name, args[0], dest)
				if err != nil {
					return err
				}
				id = pulled
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s from %s\n", id, name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&remoteName, "remote", "r", "", "Remote to pull from (default: configured default_remote)")
	cmd.Flags().StringVar(&dest, "dest", ".", "Directory to download file payloads into")
	return cmd
}

func newSimulationValidateCommand() *cobra.Command {
	var device, scenario string
	cmd := &cobra.Command{
		Use:   "validate <simulation>",
		Short: "Score a simulation against its reference baseline",
		Long: `Compare the simulation's numeric metadata against the stored
baseline for its device and scenario. The verdict is appended to the
simulation's provenance.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := cmdCtx.resolveLocal(ctx, args[0])
			if err != nil {
				return err
			}
			sim, err := cmdCtx.Store.GetSimulation(ctx, id)
			if err != nil {
				return err
			}
			meta := sim.MetaMap()
			if device == "" {
				device = meta["device"]
			}
			if scenario == "" {
				scenario = meta["scenario"]
			}
			if device == "" || scenario == "" {
				return fmt.Errorf("simulation has no device/scenario metadata: pass --device and --scenario")
			}

			report, err := refval.New(cmdCtx.Store, cmdCtx.Logger).Validate(ctx, id, device, scenario)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range report.Results {
				fmt.Fprintf(out, "%-12s %-40s %s\n", res.Outcome, res.Path, res.Value)
			}
			if report.Passed() {
				fmt.Fprintf(out, "PASSED against %s/%s\n", device, scenario)
				return nil
			}
			return fmt.Errorf("%w: %d metadata paths out of range for %s/%s",
				core.ErrValidationFailed, len(report.Failures()), device, scenario)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Device the baseline is keyed by (default: simulation metadata)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "Scenario the baseline is keyed by (default: simulation metadata)")
	return cmd
}
