package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/connector"
	"github.com/spf13/cobra"
)

const missOutput = "(miss)"

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key, decoded with the connector codec and
rendered as JSON. Prints (miss) when the key is absent or expired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, ok, err := a.conn().GetBytes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, missOutput)
				return nil
			}

			var value any
			if err := a.conn().Codec().Unmarshal(data, &value); err != nil {
				fmt.Fprintf(out, "%q\n", data)
				return nil
			}
			rendered, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				fmt.Fprintf(out, "%v\n", value)
				return nil
			}
			fmt.Fprintln(out, string(rendered))
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var (
		ttl  time.Duration
		tags []string
	)

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a string value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []cache.CallOption{cache.WithTags(tags...)}
			if ttl > 0 {
				opts = append(opts, cache.WithTTL(ttl))
			}
			if err := connector.Set(cmd.Context(), a.conn(), args[0], args[1], opts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "entry lifetime (defaults to the configured TTL)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag to attach, repeatable")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.conn().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
