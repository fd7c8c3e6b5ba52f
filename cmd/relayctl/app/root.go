// Package app implements relayctl, the operator CLI of relay-server.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/domrelay/domrelay/pkg/client"
)

const envPrefix = "RELAYCTL"

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
	output  string
	out     io.Writer
}

// client builds an SDK client authenticated with the configured user token.
func (o *globalOptions) client() (*client.Client, error) {
	if o.token == "" {
		return nil, fmt.Errorf("a user token is required: pass --token or set %s_TOKEN", envPrefix)
	}
	return client.New(o.server, client.WithToken(o.token), client.WithTimeout(o.timeout))
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout+time.Second)
}

// NewRootCommand returns relayctl with every subcommand attached. Output is
// written to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	o := &globalOptions{out: out}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate a domrelay server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			o.server = v.GetString("server")
			o.token = v.GetString("token")
			o.timeout = v.GetDuration("timeout")
			o.output = v.GetString("output")
			if o.output != "table" && o.output != "json" {
				return fmt.Errorf("--output must be table or json, got %q", o.output)
			}
			return nil
		},
	}
	cmd.SetOut(out)

	fs := cmd.PersistentFlags()
	fs.StringVar(&o.server, "server", "http://127.0.0.1:8080", "Base URL of relay-server.")
	fs.StringVar(&o.token, "token", "", "User bearer token.")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "Per-request timeout.")
	fs.StringVarP(&o.output, "output", "o", "table", "Output format: table or json.")

	cmd.AddCommand(
		newTokenCommand(o),
		newEnqueueCommand(o),
		newListCommand(o),
		newGetCommand(o),
		newCancelCommand(o),
		newVerdictCommand(o),
		newDevicesCommand(o),
		newIntentCommand(o),
	)
	return cmd
}
