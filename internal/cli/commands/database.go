package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/internal/refval"
	"github.com/simdb-io/simdb/pkg/core"
)

// NewDatabaseCommand creates the database command group.
func NewDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Maintain the local database",
	}
	cmd.AddCommand(newDatabaseClearCommand())
	cmd.AddCommand(newDatabaseCVCommand())
	cmd.AddCommand(newDatabaseReferenceCommand())
	return cmd
}

func newDatabaseClearCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete everything from the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("refusing to clear the database without --force")
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Actually delete all records")
	return cmd
}

func newDatabaseCVCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cv",
		Short: "Manage controlled vocabularies",
		Long: `A controlled vocabulary restricts the values accepted for one
metadata element. Writes of out-of-vocabulary values are rejected.`,
	}
	cmd.AddCommand(newCVListCommand())
	cmd.AddCommand(newCVShowCommand())
	cmd.AddCommand(newCVSetCommand())
	cmd.AddCommand(newCVReplaceCommand())
	cmd.AddCommand(newCVClearCommand())
	cmd.AddCommand(newCVDeleteCommand())
	return cmd
}

func newCVListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered vocabularies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			vocabs, err := cmdCtx.Store.ListVocabularies(cmd.Context())
			if err != nil {
				return err
			}
			renderVocabularies(cmd.OutOrStdout(), vocabs)
			return nil
		},
	}
}

func newCVShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <element>",
		Short: "Show the permitted words of one vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			vocab, err := cmdCtx.Store.GetVocabulary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(vocab.Words, "\n"))
			return nil
		},
	}
}

func newCVSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <element> <word>...",
		Short: "Register a vocabulary or extend its words",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			vocab := core.Vocabulary{Name: args[0], Words: args[1:]}
			if err := cmdCtx.Store.PutVocabulary(cmd.Context(), vocab); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vocabulary %s now permits %d more words\n",
				args[0], len(args)-1)
			return nil
		},
	}
}

func newCVReplaceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replace <element> <word>...",
		Short: "Replace the full word list of a vocabulary",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.ReplaceVocabularyWords(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vocabulary %s replaced (%d words)\n",
				args[0], len(args)-1)
			return nil
		},
	}
}

func newCVClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <element>",
		Short: "Empty a vocabulary's word list",
		Long: `Remove every permitted word while keeping the vocabulary
registered: until words are added back, no value is accepted for the
element.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.ReplaceVocabularyWords(cmd.Context(), args[0], nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vocabulary %s cleared\n", args[0])
			return nil
		},
	}
}

func newCVDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <element>",
		Short: "Drop a vocabulary and its restriction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.DeleteVocabulary(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vocabulary %s deleted\n", args[0])
			return nil
		},
	}
}

func newDatabaseReferenceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage reference validation baselines",
		Long: `A baseline stores per-path statistical envelopes computed from a
set of accepted reference simulations, keyed by device and scenario.`,
	}
	cmd.AddCommand(newReferenceLoadCommand())
	cmd.AddCommand(newReferenceShowCommand())
	cmd.AddCommand(newReferenceClearCommand())
	return cmd
}

func newReferenceLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <device> <scenario> <simulation>...",
		Short: "Compute a baseline from reference simulations",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			refs := make([]uuid.UUID, 0, len(args)-2)
			for _, token := range args[2:] {
				id, err := cmdCtx.resolveLocal(ctx, token)
				if err != nil {
					return err
				}
				refs = append(refs, id)
			}

			validator := refval.New(cmdCtx.Store, cmdCtx.Logger)
			paths, err := validator.LoadReference(ctx, args[0], args[1], refs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline %s/%s covers %d metadata paths\n",
				args[0], args[1], paths)
			return nil
		},
	}
}

func newReferenceShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <device> <scenario>",
		Short: "Show the stored baseline envelopes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			baselines, err := cmdCtx.Store.GetBaselines(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			renderBaselines(cmd.OutOrStdout(), baselines)
			return nil
		},
	}
}

func newReferenceClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <device> <scenario>",
		Short: "Delete a baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.DeleteBaselines(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline %s/%s cleared\n", args[0], args[1])
			return nil
		},
	}
}
