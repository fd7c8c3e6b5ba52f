package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/client"
)

func newEnqueueCommand(g *globalOptions) *cobra.Command {
	var (
		deviceID string
		payload  string
		criteria []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue TYPE",
		Short: "Enqueue a command for a device",
		Example: `  relayctl enqueue navigate --device laptop --payload '{"url":"https://example.com"}'
  relayctl enqueue insert_content --device laptop --payload '{"selector":"#doc","value":"hi"}' \
    --criteria 'content_length >= 2'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			out, err := c.Enqueue(ctx, &v1.EnqueueRequest{
				DeviceID:        deviceID,
				Type:            v1.CommandType(args[0]),
				Payload:         json.RawMessage(payload),
				SuccessCriteria: criteria,
			})
			if err != nil {
				return err
			}
			return printCommand(g, out)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Target device id.")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload of the command type.")
	cmd.Flags().StringArrayVar(&criteria, "criteria", nil, "Success criterion, repeatable.")
	return cmd
}

func newListCommand(g *globalOptions) *cobra.Command {
	var opts client.ListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			opts.Status = v1.CommandStatus(status)
			cmds, err := c.List(ctx, opts)
			if err != nil {
				return err
			}
			return printCommands(g, cmds)
		},
	}
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "Only commands of this device.")
	cmd.Flags().StringVar(&status, "status", "", "Only commands in this status.")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "Only corrective commands of this root command.")
	return cmd
}

func newGetCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one command with its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			out, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printCommand(g, out)
		},
	}
}

func newCancelCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending or claimed command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			out, err := c.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			return printCommand(g, out)
		},
	}
}

func newVerdictCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verdict ID",
		Short: "Show the verifier's verdict for a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			v, ok, err := c.Verdict(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				_, err := fmt.Fprintf(g.out, "command %s has no verdict yet\n", args[0])
				return err
			}
			return printVerdict(g, v)
		},
	}
}
