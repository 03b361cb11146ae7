package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/enginebridge/internal/integration/process"
	"github.com/dshills/enginebridge/internal/integration/terminal"
)

func newTerminalCmd(flags *globalFlags) *cobra.Command {
	var keepOpen bool

	cmd := &cobra.Command{
		Use:     "terminal",
		Aliases: []string{"repl"},
		Short:   "Run the engine interactively in this terminal",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTerminal(cmd.Context(), flags, keepOpen)
		},
	}
	cmd.Flags().BoolVar(&keepOpen, "keep-open", false, "Wait for a key press after the engine exits")
	return cmd
}

func runTerminal(ctx context.Context, flags *globalFlags, keepOpen bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := flags.open()
	if err != nil {
		return err
	}
	defer s.Close()

	closed := make(chan *int, 1)
	opts := terminal.Options{
		OnWrite: func(text string) { _, _ = os.Stdout.WriteString(text) },
		OnClose: func(code *int) { closed <- code },
		Notify: func(err error) {
			fmt.Fprintf(os.Stderr, "\r\nengine: %v\r\n", err)
		},
	}
	if keepOpen {
		opts.ExitMessage = func(status process.ExitStatus) string {
			return fmt.Sprintf("\n[engine exited with %s, press any key to close]\n", status)
		}
	}

	pt, err := s.manager.NewTerminal(opts)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	var dims *terminal.Dimensions
	if term.IsTerminal(fd) {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			dims = &terminal.Dimensions{Cols: cols, Rows: rows}
		}
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, oldState) }()
	}

	if err := pt.Open(ctx, dims); err != nil {
		return err
	}

	stopResize := watchResize(func() {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			pt.SetDimensions(cols, rows)
		}
	})
	defer stopResize()

	go forwardInput(pt)

	select {
	case code := <-closed:
		if code != nil && *code != 0 {
			return &exitCodeError{code: *code}
		}
		return nil
	case <-ctx.Done():
		pt.Close()
		return ctx.Err()
	}
}

// forwardInput copies stdin into the terminal until stdin ends or the
// terminal closes.
func forwardInput(pt *terminal.Pseudoterminal) {
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			pt.HandleInput(string(buf[:n]))
		}
		if err != nil || pt.Closed() {
			return
		}
	}
}
