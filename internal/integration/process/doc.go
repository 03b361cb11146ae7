// Package process supervises the language engine's child process.
//
// A Supervisor owns at most one live engine process at a time. Every spawn
// creates a fresh Process generation with its own id; a crashed or
// terminated generation is never reused.
//
// # Events
//
// Subscribers receive one ordered stream of tagged events per generation:
//
//	events, unsubscribe := sup.Subscribe()
//	defer unsubscribe()
//
//	for ev := range events {
//	    switch ev.Kind {
//	    case process.EventSpawned:
//	    case process.EventOutput:   // ev.Data, ev.Stream
//	    case process.EventErrored:  // ev.Err
//	    case process.EventClosed:   // ev.Status
//	    }
//	}
//
// EventClosed is emitted exactly once per generation and only after every
// output reader reached end of file, so no output follows it.
//
// # Spawning
//
//	proc, err := sup.Spawn(ctx, process.Command{
//	    Path: "engine",
//	    Args: []string{"--stdio", "main.script"},
//	    Dir:  scriptsDir,
//	    Env:  map[string]string{"HOME": home},
//	})
//
// Failures to start the executable are returned as *SpawnError and are not
// retried. With Command.PTY set the process runs on a pseudo-terminal and
// SetDimensions resizes it.
//
// # Ownership
//
// Attach marks the supervisor as owned by one consumer (the request
// channel or the pseudo-terminal adapter), so two consumers never read the
// same process concurrently.
//
// # Thread Safety
//
// Supervisor and Process are safe for concurrent use.
package process
