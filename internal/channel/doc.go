// Package channel multiplexes concurrent requests to the language engine
// over one newline-delimited JSON stream.
//
// # Wire format
//
// Each request is one line:
//
//	{"type":"evaluate","params":{...},"id":7}
//
// Responses carry the request id next to the result fields:
//
//	{"id":7,"value":"42"}
//
// The id is removed and the remaining object is handed to the request's
// Transform. Envelopes whose id is missing, not a positive integer, or not
// pending are unsolicited traffic (progress, logs) and go to the
// unsolicited handler.
//
// # Lifecycle
//
// The first Send connects through the Connector; concurrent first sends
// share one attempt. When the connection ends, every pending request fails
// with ErrProcessExited and the next Send connects again. Dispose does the
// same and refuses further sends.
//
// # Usage
//
//	ch := channel.New(&channel.ProcessConnector{Supervisor: sup, Command: cmd})
//	defer ch.Dispose()
//
//	var out struct{ X int `json:"x"` }
//	if err := ch.Call(ctx, "echo", map[string]int{"x": 1}, &out); err != nil {
//	    return err
//	}
//
// Cancelling the context given to Send removes the request and resolves it
// with ErrCancelled; the engine is not told. There is no built-in timeout.
package channel
