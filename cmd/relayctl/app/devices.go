package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func newDevicesCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the devices registered to the token's user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			devices, err := c.ListDevices(ctx)
			if err != nil {
				return err
			}
			return printDevices(g, devices)
		},
	}
}

func newIntentCommand(g *globalOptions) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "intent MESSAGE...",
		Short: "Send a natural-language request to the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			resp, err := c.Intent(ctx, &v1.IntentRequest{DeviceID: deviceID, Message: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.out, resp)
			}
			if resp.Response != "" {
				if _, err := fmt.Fprintln(g.out, resp.Response); err != nil {
					return err
				}
			}
			for _, id := range resp.CommandIDs {
				if _, err := fmt.Fprintf(g.out, "enqueued %s\n", id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device the actions should run on.")
	return cmd
}
