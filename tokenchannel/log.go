package tokenchannel

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(l btclog.Logger) {
	log = l
}
