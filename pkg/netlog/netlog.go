// Package netlog is the router's structured logging sink: a single
// package-level logrus logger that every other package calls through
// instead of the bare standard-library log package, so events can carry
// structured fields (interface name, address, ARP state) the way
// sr_router.h's Debug(...)/DebugMAC(...) macros carried only a format
// string.
package netlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// L is the router's logger. cmd/vrouter may reconfigure its level and
// output; every pkg/* component logs through it rather than creating its
// own logger instance.
var L = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbose raises the logger to debug level, matching the original's
// compile-time _DEBUG_ flag but toggleable at runtime via a CLI switch.
func SetVerbose(verbose bool) {
	if verbose {
		L.SetLevel(logrus.DebugLevel)
		return
	}
	L.SetLevel(logrus.InfoLevel)
}
