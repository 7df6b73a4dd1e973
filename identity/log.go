package identity

import "github.com/btcsuite/btclog"

// log is the package-level logger, wired by cmd/offstd's UseLogger fanout,
// mirroring the teacher's per-subsystem logger pattern.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(l btclog.Logger) {
	log = l
}
