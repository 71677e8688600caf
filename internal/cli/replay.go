package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"
	"streamsworker/internal/domain/deadletter"
	"streamsworker/internal/domain/event"
	"streamsworker/internal/infrastructure/kafka"
	redisInfra "streamsworker/internal/infrastructure/redis"
	"streamsworker/internal/usecase"

	"github.com/spf13/cobra"
)

func newDeadLettersCommand(factory func() *infrastructure.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List the most recent dead letters stored in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			f := factory()
			defer f.Close()
			repo, err := f.DeadLetterRepository(cmd.Context())
			if err != nil {
				return err
			}
			records, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENTRY\tCONSUMER\tATTEMPTS\tFAILED AT\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.EntryID, r.Consumer, r.Attempts, r.FailedAt.Format(time.RFC3339), r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of dead letters to list")
	return cmd
}

func newReplayCommand(cfg *config.Config, factory func() *infrastructure.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Append dead-lettered entries back onto the events stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			limit, _ := cmd.Flags().GetInt("limit")
			wait, _ := cmd.Flags().GetDuration("wait")

			f := factory()
			defer f.Close()
			ctx := cmd.Context()

			store, err := f.Store(ctx)
			if err != nil {
				return err
			}
			uc := usecase.NewReplayDeadLetters(store, config.Stream, slog.Default())

			var n int
			switch from {
			case "stream":
				n, err = replayFromStream(ctx, store, cfg.DeadLetter.Stream, uc, limit)
			case "postgres":
				repo, rerr := f.DeadLetterRepository(ctx)
				if rerr != nil {
					return rerr
				}
				n, err = replayFromPostgres(ctx, repo, uc, limit)
			case "kafka":
				c := kafka.NewDeadLetterConsumer(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, cfg.Kafka.GroupID)
				defer c.Close()
				n, err = replayFromKafka(ctx, c, uc, limit, wait)
			default:
				return fmt.Errorf("invalid --from %q; use stream|kafka|postgres", from)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d dead letters from %s\n", n, from)
			return err
		},
	}
	cmd.Flags().String("from", "stream", "Dead-letter source: stream|kafka|postgres")
	cmd.Flags().Int("limit", 100, "Maximum number of dead letters to replay")
	cmd.Flags().Duration("wait", 5*time.Second, "With --from kafka, stop after this long without new records")
	return cmd
}

func replayFromStream(ctx context.Context, store *redisInfra.Store, stream string, uc *usecase.ReplayDeadLetters, limit int) (int, error) {
	entries, err := store.Range(ctx, stream, "-", "+", int64(limit))
	if err != nil {
		return 0, err
	}

	records := make([]*deadletter.Record, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		msg, err := event.Decode(e.Fields)
		if err != nil {
			return 0, fmt.Errorf("dead letter entry %s: %w", e.ID, err)
		}
		rec, err := redisInfra.RecordFromMessage(msg)
		if err != nil {
			return 0, fmt.Errorf("dead letter entry %s: %w", e.ID, err)
		}
		records = append(records, rec)
		ids = append(ids, e.ID)
	}

	n, err := uc.Execute(ctx, records)
	if n > 0 {
		if _, derr := store.Delete(ctx, stream, ids[:n]...); derr != nil {
			return n, errors.Join(err, derr)
		}
	}
	return n, err
}

func replayFromPostgres(ctx context.Context, repo deadletter.Repository, uc *usecase.ReplayDeadLetters, limit int) (int, error) {
	records, err := repo.ListUnreplayed(ctx, limit)
	if err != nil {
		return 0, err
	}

	n, err := uc.Execute(ctx, records)
	if n > 0 {
		ids := make([]string, 0, n)
		for _, r := range records[:n] {
			ids = append(ids, r.ID)
		}
		if merr := repo.MarkReplayed(ctx, ids); merr != nil {
			return n, errors.Join(err, merr)
		}
	}
	return n, err
}

func replayFromKafka(ctx context.Context, c *kafka.DeadLetterConsumer, uc *usecase.ReplayDeadLetters, limit int, wait time.Duration) (int, error) {
	replayed := 0
	for replayed < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		rec, msg, err := c.Fetch(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				// topic drained
				return replayed, nil
			}
			return replayed, err
		}

		if _, err := uc.Execute(ctx, []*deadletter.Record{rec}); err != nil {
			return replayed, err
		}
		if err := c.Commit(ctx, msg); err != nil {
			return replayed, fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
		replayed++
	}
	return replayed, nil
}
