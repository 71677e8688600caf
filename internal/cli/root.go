// Package cli implements streamctl, the operator tool for the events stream.
//
// Usage
//
//	streamctl pending --count 20
//	streamctl claim --consumer worker-2 --min-idle 1m
//	streamctl deadletters --limit 10
//	streamctl replay --from stream
//	streamctl replay --from kafka --wait 10s
//	streamctl replay --from postgres --limit 100
//
// Connection settings come from the same environment variables as the services.
package cli

import (
	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"

	"github.com/spf13/cobra"
)

func NewRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "streamctl",
		Short:         "Inspect and repair the events stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	factory := func() *infrastructure.Factory { return infrastructure.NewFactory(cfg) }

	root.AddCommand(newPendingCommand(factory))
	root.AddCommand(newClaimCommand(factory))
	root.AddCommand(newDeadLettersCommand(factory))
	root.AddCommand(newReplayCommand(cfg, factory))
	return root
}
