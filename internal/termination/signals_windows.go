//go:build windows

package termination

import "os"

var defaultSignals = []os.Signal{os.Interrupt}
