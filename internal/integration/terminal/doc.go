// Package terminal exposes the engine as an editor pseudo-terminal.
//
// A Pseudoterminal wraps one process.Supervisor. It spawns the engine on a
// pseudo-terminal, forwards keyboard input to it, and relays its output
// with bare line feeds rewritten to CRLF.
//
// # Close detection
//
// Engines often print their last output after the exit notification
// arrives, so the close is debounced: the exit arms a CloseDebouncer and
// every later output chunk pushes its deadline back by the quiet period
// (250ms by default). Once the output settles the adapter closes:
//
//   - Soft close: when the ExitMessage formatter returns text, it is
//     written to the terminal and the close event is deferred until the
//     next keystroke, or until SoftCloseTimeout passes.
//   - Hard close: otherwise the close event fires immediately.
//
// Error events notify the user and force a hard close. The close event
// fires at most once per Open.
//
// # Usage
//
//	pt := terminal.New(sup, terminal.Options{
//	    Command:     "engine",
//	    Args:        []string{"main.script"},
//	    ShowCommand: terminal.Bool(true),
//	    OnWrite:     func(text string) { editor.Write(text) },
//	    OnClose:     func(code *int) { editor.Close(code) },
//	})
//	if err := pt.Open(ctx, &terminal.Dimensions{Cols: 120, Rows: 40}); err != nil {
//	    return err
//	}
package terminal
