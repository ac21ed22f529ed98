package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/jsrs"
)

// CallOptions holds flags for the call and inspect commands.
type CallOptions struct {
	*RootOptions
	JSON bool
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <interface> <method> [args]",
		Short: "Call a remote method and print its result",
		Long: `Call a remote method and print its result.

Arguments are given as a jsrs array.

Example:
  jstpctl call auth newAccount "['Payload']"
  jstpctl --config jstp.toml call calc add "[1, 2]" --json`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the result as JSON")

	return cmd
}

func runCall(opts *CallOptions, args []string, cmd *cobra.Command) error {
	callArgs := jsrs.Array{}
	if len(args) == 3 {
		v, err := jsrs.Parse(args[2])
		if err != nil {
			return fmt.Errorf("invalid args: %w", err)
		}
		arr, ok := v.(jsrs.Array)
		if !ok {
			return fmt.Errorf("invalid args: expected an array, got %s", jsrs.Stringify(v))
		}
		callArgs = arr
	}

	result, err := request(cmd.Context(), opts.RootOptions, cmd, func(c *jstp.Connection, h jstp.CallbackHandler) error {
		return c.Call(args[0], args[1], callArgs, h)
	})
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), result, opts.JSON)
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <interface>",
		Short: "List the methods of a remote interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := request(cmd.Context(), opts.RootOptions, cmd, func(c *jstp.Connection, h jstp.CallbackHandler) error {
				return c.Inspect(args[0], h)
			})
			if err != nil {
				return err
			}
			if opts.JSON {
				return printValue(cmd.OutOrStdout(), result, true)
			}
			for _, m := range result {
				fmt.Fprintln(cmd.OutOrStdout(), jsrs.ToGo(m))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the methods as JSON")

	return cmd
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the peer and print the round trip time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rtt time.Duration
			_, err := request(cmd.Context(), rootOpts, cmd, func(c *jstp.Connection, h jstp.CallbackHandler) error {
				start := time.Now()
				return c.Ping(func(result jsrs.Array, err error) {
					rtt = time.Since(start)
					h(result, err)
				})
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", rtt.Round(time.Microsecond))
			return nil
		},
	}
	return cmd
}

// request connects, sends one message through send and waits for its
// callback.
func request(ctx context.Context, opts *RootOptions, cmd *cobra.Command, send func(*jstp.Connection, jstp.CallbackHandler) error) (jsrs.Array, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := dial(ctx, opts.Config, opts.logger(cmd))
	if err != nil {
		return nil, err
	}

	type reply struct {
		result jsrs.Array
		err    error
	}
	done := make(chan reply, 1)
	err = send(c.conn, func(result jsrs.Array, err error) {
		done <- reply{result, err}
	})
	if err != nil {
		_ = c.close()
		return nil, err
	}

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if err := c.close(); err != nil && r.err == nil {
		r.err = err
	}
	return r.result, r.err
}
