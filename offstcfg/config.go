// Package offstcfg loads this node's on-disk/command-line configuration,
// grounded on lnd.go's loadConfig: a struct tagged for go-flags, parsed
// from the command line and then normalized (paths expanded, defaults
// filled in, values cross-checked) before anything else starts up.
package offstcfg

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultLogFilename  = "offstd.log"
	defaultRPCPort      = 9736
	defaultListenPort   = 9735
	defaultMaxLogFiles  = 3
	defaultMaxLogFileSz = 10
)

func defaultOffstDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".offst"
	}
	return filepath.Join(dir, ".offst")
}

// Config is this node's full runtime configuration, assembled the way
// lnd.go's Config struct is: flat, tagged for go-flags, with section
// comments rather than nested structs for every subsystem.
type Config struct {
	OffstDir   string `long:"offstdir" description:"The base directory that contains offst's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`
	DataDir    string `long:"datadir" description:"The directory to store offst's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	ListenAddr string `long:"listen" description:"The address to listen for peer-to-peer friend connections"`
	RPCAddr    string `long:"rpclisten" description:"The address the gRPC health-check server listens on"`
	HTTPAddr   string `long:"httplisten" description:"The address the control/websocket HTTP server listens on"`

	TorSocks string `long:"tor.socks" description:"The host:port of Tor's SOCKS proxy, for dialing onion relay addresses"`

	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`
}

// DefaultConfig returns a Config populated with lnd.go-style defaults,
// the starting point loadConfig's flags.Parse then overrides from the
// command line and config file.
func DefaultConfig() Config {
	offstDir := defaultOffstDir()
	return Config{
		OffstDir:       offstDir,
		ConfigFile:     filepath.Join(offstDir, "offstd.conf"),
		DataDir:        filepath.Join(offstDir, defaultDataDirname),
		LogDir:         filepath.Join(offstDir, defaultLogDirname),
		ListenAddr:     fmt.Sprintf(":%d", defaultListenPort),
		RPCAddr:        fmt.Sprintf("localhost:%d", defaultRPCPort),
		HTTPAddr:       "localhost:8235",
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSz,
		DebugLevel:     "info",
	}
}

// LoadConfig parses args (normally os.Args[1:]) over DefaultConfig and
// normalizes directory paths relative to a possibly-overridden OffstDir,
// mirroring lnd.go's loadConfig two-pass parse: flags first (so
// --offstdir/--configfile can relocate everything else), then an .ini
// config file at ConfigFile if present, then flags again so command-line
// values win over the file.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()

	preCfg := cfg
	parser := flags.NewParser(&preCfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if preCfg.OffstDir != cfg.OffstDir {
		preCfg.DataDir = filepath.Join(preCfg.OffstDir, defaultDataDirname)
		preCfg.LogDir = filepath.Join(preCfg.OffstDir, defaultLogDirname)
		preCfg.ConfigFile = filepath.Join(preCfg.OffstDir, "offstd.conf")
	}
	cfg = preCfg

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		fileParser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(fileParser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("offstcfg: parsing config file: %w", err)
		}
		if _, err := fileParser.ParseArgs(args); err != nil {
			return nil, err
		}
	}

	for _, dir := range []string{cfg.OffstDir, cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("offstcfg: creating %s: %w", dir, err)
		}
	}

	return &cfg, nil
}

// LogFilePath is the full path to the rotating log file lnd.go's
// initLogRotator equivalent writes to (cmd/offstd wires this up).
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
