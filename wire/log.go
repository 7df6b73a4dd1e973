package wire

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger, called from cmd/offstd's
// subsystem wiring.
func UseLogger(l btclog.Logger) {
	log = l
}
