//go:build unix

package process

import (
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// defaultTerminateSignal is sent by Terminate when no signal is given.
var defaultTerminateSignal os.Signal = syscall.SIGTERM

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return "signal " + strconv.Itoa(int(sig))
}
