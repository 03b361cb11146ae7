package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func newCallCmd(flags *globalFlags) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "call TYPE [PARAMS_JSON...]",
		Short: "Send requests to the engine and print the responses",
		Long: `call sends one request of the given type for each PARAMS_JSON argument
(or a single request without params) and prints every response payload in
argument order. Requests are in flight concurrently; the first failure
cancels the rest.`,
		Example: `  enginebridge call format '{"path":"main.lua"}'
  enginebridge call lint '{"path":"a.lua"}' '{"path":"b.lua"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), flags, cmd.OutOrStdout(), args[0], args[1:], compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print responses on one line")
	return cmd
}

func runCall(ctx context.Context, flags *globalFlags, out io.Writer, typ string, rawParams []string, compact bool) error {
	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := flags.open()
	if err != nil {
		return err
	}
	defer s.Close()

	results := make([]json.RawMessage, len(params))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range params {
		i, p := i, p
		g.Go(func() error {
			var result json.RawMessage
			if err := s.manager.Call(gctx, typ, p, &result); err != nil {
				return fmt.Errorf("%s request %d: %w", typ, i+1, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	color := isTerminal(out)
	for _, r := range results {
		fmt.Fprintln(out, string(formatJSON(r, compact, color)))
	}
	return nil
}

// parseParams validates each argument as JSON. No arguments means one
// request without params.
func parseParams(args []string) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return []json.RawMessage{nil}, nil
	}

	params := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		if !gjson.Valid(arg) {
			return nil, fmt.Errorf("params %d is not valid JSON: %s", i+1, arg)
		}
		params = append(params, json.RawMessage(arg))
	}
	return params, nil
}

func formatJSON(data []byte, compact, color bool) []byte {
	if compact {
		data = pretty.Ugly(data)
	} else {
		data = bytes.TrimRight(pretty.Pretty(data), "\n")
	}
	if color {
		data = pretty.Color(data, nil)
	}
	return data
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
