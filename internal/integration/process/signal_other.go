//go:build !unix

package process

import (
	"os"
	"syscall"
)

var defaultTerminateSignal os.Signal = os.Kill

func signalName(sig syscall.Signal) string {
	return sig.String()
}
