package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/jsrs"
)

// ListenOptions holds flags for the listen command.
type ListenOptions struct {
	*RootOptions
	Count int
	JSON  bool
}

// NewListenCommand creates the listen command.
func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen <interface> <event> [event...]",
		Short: "Print remote events as they arrive",
		Long: `Print remote events as they arrive.

Each event is printed on one line as "interface.event args". The command
runs until interrupted, or until --count events were printed. The
connection reconnects and resumes its session if the link drops.

Example:
  jstpctl listen chat message join leave`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(opts, args, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "exit after this many events (0 means no limit)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print event arguments as JSON")

	return cmd
}

func runListen(opts *ListenOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	iface, events := args[0], args[1:]
	out := cmd.OutOrStdout()

	var mu sync.Mutex
	seen := 0
	var printErr error
	subscribe := func(c *jstp.Connection) {
		for _, event := range events {
			name := event
			c.AddEventHandler(iface, name, func(eventArgs jsrs.Array) {
				mu.Lock()
				defer mu.Unlock()
				if opts.Count > 0 && seen >= opts.Count {
					return
				}

				text := jsrs.Stringify(eventArgs)
				if opts.JSON {
					data, err := json.Marshal(jsrs.ToGo(eventArgs))
					if err != nil {
						printErr = fmt.Errorf("encode json: %w", err)
						cancel()
						return
					}
					text = string(data)
				}
				fmt.Fprintf(out, "%s.%s %s\n", iface, name, text)

				seen++
				if opts.Count > 0 && seen >= opts.Count {
					cancel()
				}
			})
		}
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, opts.Timeout)
	defer dialCancel()
	c, err := dial(dialCtx, opts.Config, opts.logger(cmd), subscribe)
	if err != nil {
		return err
	}

	<-ctx.Done()
	err = c.close()

	mu.Lock()
	defer mu.Unlock()
	if printErr != nil {
		return printErr
	}
	return err
}
