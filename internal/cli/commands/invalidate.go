package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInvalidateCmd(a *app) *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "invalidate --tag <tag> [--tag <tag>...]",
		Short: "Remove every entry carrying any of the tags",
		Long: `Remove every entry carrying any of the tags.

Examples:
  cachectl invalidate --tag user:42
  cachectl invalidate --tag user --tag order::queries`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.conn().InvalidateByTags(cmd.Context(), tags); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", strings.Join(tags, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag to invalidate, repeatable")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

type cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

type sweeper interface {
	DeleteExpired() int
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired entries from the default provider",
		Long: `Delete expired entries from the default provider. Only the memory and
document providers keep expired entries around; the others expire them natively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := a.defaultProvider()
			p, err := a.conn().Provider(cmd.Context(), kind)
			if err != nil {
				return err
			}

			var removed int
			switch p := p.(type) {
			case cleaner:
				removed, err = p.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
			case sweeper:
				removed = p.DeleteExpired()
			default:
				return fmt.Errorf("provider %s expires entries on its own", kind)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries from %s\n", removed, kind)
			return nil
		},
	}
}
