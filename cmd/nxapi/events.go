package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	appnats "github.com/Sarayalth/nxapi/internal/adapters/nats"
	"github.com/Sarayalth/nxapi/internal/domain"
)

func (c *cli) eventsCmd() *cobra.Command {
	var queueGroup string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print credential refresh events published over NATS as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, cleanup, err := appnats.NewEventSubscriber(cmd.Context(), c.app.Config(), c.app.Logger())
			if err != nil {
				return err
			}
			defer cleanup()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return sub.Subscribe(cmd.Context(), queueGroup, func(_ context.Context, event domain.CredentialRefreshedEvent) {
				_ = enc.Encode(event) //nolint:errcheck
			})
		},
	}
	cmd.Flags().StringVar(&queueGroup, "queue", "", "NATS queue group to share events with other subscribers")
	return cmd
}
