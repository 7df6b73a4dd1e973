// Logging setup grounded on lnd's log.go: one btclog.Backend writing to
// both stdout and a jrick/logrotate-managed file, with one subsystem
// logger per package handed back via each package's own UseLogger, the
// same fan-out lnd's SetLogLevels/useLogger does across its subsystems.
package main

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/offstlabs/offst/channeler"
	"github.com/offstlabs/offst/freezeguard"
	"github.com/offstlabs/offst/funder"
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/relay"
	"github.com/offstlabs/offst/report"
	"github.com/offstlabs/offst/rpc"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// logWriter fans log output out to stdout and, once initLogRotator has
// run, to the rotating log file as well.
type logWriter struct {
	rotatorPipe io.Writer
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotatorPipe != nil {
		return w.rotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	lw         = &logWriter{}
	backendLog = btclog.NewBackend(lw)
	logRotator *rotator.Rotator

	log = backendLog.Logger("OFSD")
)

// initLogRotator brings up a rotator.Rotator over logFile, grounded on
// breez-lightninglib/daemon/log.go's initLogRotator: an io.Pipe feeds
// everything logWriter receives into the rotator's own goroutine.
func initLogRotator(logFile string, maxFileSizeKB, maxRolls int) error {
	r, err := rotator.New(logFile, int64(maxFileSizeKB*1024), false, maxRolls)
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	go r.Run(pr)
	lw.rotatorPipe = pw
	logRotator = r
	return nil
}

// subsystemLoggers lists every package this daemon wires a logger into,
// keyed by its short subsystem tag.
func subsystemLoggers(level string) {
	subsystems := map[string]func(btclog.Logger){
		"IDNT": identity.UseLogger,
		"WIRE": wire.UseLogger,
		"STOR": store.UseLogger,
		"FRZG": freezeguard.UseLogger,
		"MCRD": mutualcredit.UseLogger,
		"TCHN": tokenchannel.UseLogger,
		"FUND": funder.UseLogger,
		"RELY": relay.UseLogger,
		"CHNL": channeler.UseLogger,
		"RPRT": report.UseLogger,
		"RPCS": rpc.UseLogger,
	}
	for tag, use := range subsystems {
		l := backendLog.Logger(tag)
		l.SetLevel(parseLevel(level))
		use(l)
	}
	log.SetLevel(parseLevel(level))
}

func parseLevel(level string) btclog.Level {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return btclog.LevelInfo
	}
	return lvl
}
