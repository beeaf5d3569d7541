package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	redisbus "github.com/koios/openmatrix/internal/redis"
	"github.com/koios/openmatrix/pkg/models"
)

func (a *app) newQueueCommand() *cobra.Command {
	var redisAddr string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Talk to a running bridge through Redis",
		Long: `Queue commands on the Redis command stream a bridge consumes, and read
the last state the bridge published. The device itself is not contacted.`,
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address (default from REDIS_ADDR)")

	connect := func() (*redisbus.Client, error) {
		cfg := a.cfg.Redis
		if redisAddr != "" {
			cfg.Addr = redisAddr
		}
		if cfg.Addr == "" {
			return nil, errors.New("no Redis configured: set REDIS_ADDR or --redis-addr")
		}
		return redisbus.NewClient(cfg, a.cfg.Device.Name, a.logger)
	}

	send := &cobra.Command{
		Use:   "send ACTION [VALUE]",
		Short: "Queue a command for the bridge",
		Long: `Queue ACTION with an optional VALUE. VALUE is sent as JSON when it parses
as JSON and as a string otherwise, e.g.

  openmatrixctl queue send brightness 40
  openmatrixctl queue send text '{"payload":"hello","size":"large"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := connect()
			if err != nil {
				return err
			}
			defer rc.Close()

			command := &models.Command{Type: "command", UUID: uuid.NewString(), Action: args[0]}
			if len(args) == 2 {
				command.Value = models.CommandValue([]byte(args[1]))
			}
			id, err := rc.EnqueueCommand(cmd.Context(), command)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as %s (uuid %s)\n", command.Action, id, command.UUID)
			return nil
		},
	}

	var output string
	lastState := &cobra.Command{
		Use:   "last-state",
		Short: "Show the last state a bridge published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			rc, err := connect()
			if err != nil {
				return err
			}
			defer rc.Close()

			snap, err := rc.LastState(cmd.Context())
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no state published under %s", rc.LastStateKey())
			}
			if output == outputJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			return printState(cmd.OutOrStdout(), snap.State)
		},
	}
	addOutputFlag(lastState, &output)

	cmd.AddCommand(send, lastState)
	return cmd
}
