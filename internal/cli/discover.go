package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koios/openmatrix/internal/discovery"
)

func (a *app) newDiscoverCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "discover [NAME]",
		Short: "Resolve a device's .local name over mDNS and print its URL",
		Long: `Resolve NAME.local over multicast DNS and print the device URL, for use
with --device or OPENMATRIX_URL. NAME defaults to OPENMATRIX_NAME.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Device.Name
			if len(args) == 1 {
				name = args[0]
			}

			timeout := a.cfg.Device.RequestTimeout
			if timeout < discovery.DefaultLookupTimeout {
				timeout = discovery.DefaultLookupTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			addr, err := discovery.Lookup(ctx, name, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), discovery.BaseURL(addr, port))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 80, "HTTP port of the device")
	return cmd
}
