package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/pkg/core"
)

// NewRemoteCommand creates the remote command group.
func NewRemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Work with remote SimDB services",
	}
	cmd.AddCommand(newRemoteListCommand())
	cmd.AddCommand(newRemoteInfoCommand())
	cmd.AddCommand(newRemoteQueryCommand())
	cmd.AddCommand(newRemotePublishCommand())
	cmd.AddCommand(newRemoteUpdateCommand())
	cmd.AddCommand(newRemoteWatcherCommand())
	cmd.AddCommand(newRemoteTokenCommand())
	return cmd
}

func remoteNameFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "remote", "r", "", "Remote to talk to (default: configured default_remote)")
}

func newRemoteListCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List simulations on a remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			sims, err := client.ListSimulations(cmd.Context())
			if err != nil {
				return fmt.Errorf("list %s: %w", name, err)
			}
			renderSimulations(cmd.OutOrStdout(), sims)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newRemoteInfoCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "info <simulation>",
		Short: "Show one remote simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			sim, err := client.GetSimulation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get %s from %s: %w", args[0], name, err)
			}
			renderSimulation(cmd.OutOrStdout(), sim)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newRemoteQueryCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:     "query <constraint>...",
		Short:   "Query a remote by metadata",
		Example: `  simdb remote query device=iter scenario~base`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			constraints, err := parseConstraints(args)
			if err != nil {
				return err
			}
			sims, err := client.QuerySimulations(cmd.Context(), constraints)
			if err != nil {
				return fmt.Errorf("query %s: %w", name, err)
			}
			renderSimulations(cmd.OutOrStdout(), sims)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newRemotePublishCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "publish <simulation>",
		Short: "Publish a pushed simulation",
		Long: `Move a staged simulation to published on the remote. When the
simulation was pushed with --replaces, the replaced simulation is
deprecated in the same remote transaction. Validation runs first when
auto_validate is configured.`,
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
				return sync.Publish(ctx, client, name, id)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s on %s\n", id, name)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newRemoteUpdateCommand() *cobra.Command {
	var remoteName, status string
	cmd := &cobra.Command{
		Use:   "update <simulation>",
		Short: "Change the lifecycle status of a remote simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next := core.Status(status)
			if !next.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

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
				switch next {
				case core.StatusPublished:
					return sync.Publish(ctx, client, name, id)
				case core.StatusDeprecated:
					return sync.Deprecate(ctx, client, name, id)
				default:
					return client.SetStatus(ctx, id.String(), next, "")
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s on %s\n", id, next, name)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	cmd.Flags().StringVar(&status, "status", "", "New status (staged, published or deprecated)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newRemoteWatcherCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watcher",
		Short: "Manage watchers on remote simulations",
	}
	cmd.AddCommand(newWatcherListCommand())
	cmd.AddCommand(newWatcherAddCommand())
	cmd.AddCommand(newWatcherRemoveCommand())
	return cmd
}

func newWatcherListCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "list <simulation>",
		Short: "List the watchers of a remote simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			watchers, err := client.ListWatchers(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list watchers on %s: %w", name, err)
			}
			renderWatchers(cmd.OutOrStdout(), watchers)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newWatcherAddCommand() *cobra.Command {
	var remoteName, email, class string
	cmd := &cobra.Command{
		Use:   "add <simulation> <username>",
		Short: "Watch a remote simulation",
		Long: `Register a user for notifications about a remote simulation.
Notification classes: VALIDATION, REVISION, OBSOLESCENCE or ALL.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := core.ParseNotificationClass(class)
			if !ok {
				return fmt.Errorf("unknown notification class %q", class)
			}

			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			err = client.AddWatcher(cmd.Context(), args[0], core.Watcher{
				Username:     args[1],
				Email:        email,
				Notification: parsed,
			})
			if err != nil {
				return fmt.Errorf("add watcher on %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now watches %s (%s)\n", args[1], args[0], parsed.Name())
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	cmd.Flags().StringVar(&email, "email", "", "Email address to notify")
	cmd.Flags().StringVar(&class, "class", "ALL", "Notification class")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWatcherRemoveCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "remove <simulation> <username>",
		Short: "Stop watching a remote simulation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}
			if err := client.RemoveWatcher(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("remove watcher on %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s no longer watches %s\n", args[1], args[0])
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}

func newRemoteTokenCommand() *cobra.Command {
	var remoteName string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain an access token from a remote",
		Long: `Authenticate against a remote with username and password and print
the issued token. Store it with:

  simdb config set remotes.<name>.token <token>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutStore(cmd)
			name, client, err := cmdCtx.remoteClient(remoteName)
			if err != nil {
				return err
			}

			creds := &terminalCredentials{cfg: cmdCtx.Cfg}
			username, password, err := creds.Credentials(name)
			if err != nil {
				return err
			}
			token, err := client.Token(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("token from %s: %w", name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	remoteNameFlag(cmd, &remoteName)
	return cmd
}
