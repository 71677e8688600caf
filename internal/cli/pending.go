package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"
	redisInfra "streamsworker/internal/infrastructure/redis"

	"github.com/spf13/cobra"
)

func newPendingCommand(factory func() *infrastructure.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show entries delivered to the group but not acknowledged",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt64("count")

			f := factory()
			defer f.Close()
			store, err := f.Store(cmd.Context())
			if err != nil {
				return err
			}

			summary, err := store.Pending(cmd.Context(), config.Stream, config.Group)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stream=%s group=%s pending=%d\n", config.Stream, config.Group, summary.Count)
			if summary.Count == 0 {
				return nil
			}

			consumers := make([]string, 0, len(summary.Consumers))
			for c := range summary.Consumers {
				consumers = append(consumers, c)
			}
			sort.Strings(consumers)
			for _, c := range consumers {
				fmt.Fprintf(out, "  %s: %d\n", c, summary.Consumers[c])
			}

			entries, err := store.PendingEntries(cmd.Context(), config.Stream, config.Group, count)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCONSUMER\tIDLE\tDELIVERIES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.ID, e.Consumer, e.Idle.Truncate(time.Millisecond), e.Deliveries)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64("count", 20, "Maximum number of pending entries to list")
	return cmd
}

func newClaimCommand(factory func() *infrastructure.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Move entries idle longer than --min-idle to --consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			consumer, _ := cmd.Flags().GetString("consumer")
			minIdle, _ := cmd.Flags().GetDuration("min-idle")
			if consumer == "" {
				return fmt.Errorf("--consumer is required")
			}

			f := factory()
			defer f.Close()
			store, err := f.Store(cmd.Context())
			if err != nil {
				return err
			}

			total := 0
			cursor := "0-0"
			for {
				entries, next, err := store.AutoClaim(cmd.Context(), redisInfra.AutoClaimArgs{
					Stream:   config.Stream,
					Group:    config.Group,
					Consumer: consumer,
					MinIdle:  minIdle,
					Start:    cursor,
					Count:    100,
				})
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				}
				total += len(entries)
				if next == "0-0" || next == "" {
					break
				}
				cursor = next
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed %d entries for %s\n", total, consumer)
			return nil
		},
	}
	cmd.Flags().String("consumer", "", "Consumer that takes ownership")
	cmd.Flags().Duration("min-idle", time.Minute, "Only claim entries idle at least this long")
	return cmd
}
