package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zereker/jstp/jsrs"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	JSON bool
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse [record]",
		Short: "Parse a jsrs record and print it in canonical form",
		Long: `Parse a jsrs record and print it in canonical form.

The record is read from the argument, or from stdin when none is given.

Example:
  jstpctl parse "{ call: [1, 'auth'], newAccount: ['Payload'] }"
  echo "[1, 'two', undefined]" | jstpctl parse --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print as JSON instead of jsrs")

	return cmd
}

func runParse(opts *ParseOptions, args []string, cmd *cobra.Command) error {
	var input string
	if len(args) == 1 {
		input = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}

	v, err := jsrs.Parse(input)
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), v, opts.JSON)
}

// printValue writes v as canonical jsrs or as indented JSON.
func printValue(w io.Writer, v jsrs.Value, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, jsrs.Stringify(v))
		return err
	}
	data, err := json.MarshalIndent(jsrs.ToGo(v), "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
