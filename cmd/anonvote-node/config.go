package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/service"
	"github.com/vocdoni/anonvote-node/tally"
)

const (
	defaultAPIHost       = "0.0.0.0"
	defaultAPIPort       = 9090
	defaultLogLevel      = "info"
	defaultLogOutput     = "stdout"
	defaultDatadir       = ".anonvote" // Will be prefixed with user's home directory
	defaultDBType        = db.TypePebble
	defaultProverType    = proverDebug
	defaultTallyInterval = service.DefaultTallyInterval

	proverDebug  = "debug"
	proverCircom = "circom"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	Log     LogConfig
	Datadir string
	DB      DBConfig
	API     APIConfig
	Ledger  LedgerConfig
	Tallier TallierConfig
	Prover  ProverConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Type     string `mapstructure:"type"`
	MongoURI string `mapstructure:"mongoURI"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DisableLogging bool   `mapstructure:"disableLogging"`
}

// LedgerConfig points the node to a remote ledger. With an empty URL the
// node keeps its own ledger in the local database.
type LedgerConfig struct {
	URL string `mapstructure:"url"`
}

// TallierConfig holds the tally loop configuration
type TallierConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollID       uint64        `mapstructure:"pollID"`
	PrivKey      string        `mapstructure:"privkey"`
	Interval     time.Duration `mapstructure:"interval"`
	AutoFinalize bool          `mapstructure:"autoFinalize"`
}

// ProverConfig selects the proving backend and its circuit artifacts.
type ProverConfig struct {
	Type      string        `mapstructure:"type"`
	TallyWasm string        `mapstructure:"tallyWasm"`
	TallyZkey string        `mapstructure:"tallyZkey"`
	TallyVkey string        `mapstructure:"tallyVkey"`
	VoteVkey  string        `mapstructure:"voteVkey"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("db.type", defaultDBType)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("tallier.interval", defaultTallyInterval)
	v.SetDefault("tallier.autoFinalize", true)
	v.SetDefault("prover.type", defaultProverType)
	v.SetDefault("prover.timeout", tally.DefaultProveTimeout)

	// Configure flags
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database and storage files")
	flag.String("db.type", defaultDBType, "database backend (pebble, leveldb, mongodb, inmem)")
	flag.String("db.mongoURI", "", "MongoDB connection string, required by the mongodb backend")
	flag.Bool("api.enabled", true, "serve the ledger API")
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.Bool("api.disableLogging", false, "disable API request logging")
	flag.String("ledger.url", "", "remote ledger API URL (empty keeps the ledger in the local database)")
	flag.Bool("tallier.enabled", false, "run the tally loop for tallier.pollID")
	flag.Uint64("tallier.pollID", 0, "poll to tally")
	flag.StringP("tallier.privkey", "k", "", "tallier private key (hex), must match the poll coordinator key")
	flag.Duration("tallier.interval", defaultTallyInterval, "time between two looks for new ballots")
	flag.Bool("tallier.autoFinalize", true, "finalize the tally once the voting window is over")
	flag.String("prover.type", defaultProverType, "proving backend (debug, circom)")
	flag.String("prover.tallyWasm", "", "tally circuit witness calculator (wasm)")
	flag.String("prover.tallyZkey", "", "tally circuit proving key (zkey)")
	flag.String("prover.tallyVkey", "", "tally circuit verification key (json)")
	flag.String("prover.voteVkey", "", "vote circuit verification key (json)")
	flag.Duration("prover.timeout", tally.DefaultProveTimeout, "maximum time a batch proof may take")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "anonvote-node v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: anonvote-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, ANONVOTE_TALLIER_PRIVKEY or ANONVOTE_API_PORT\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve a local ledger\n")
		fmt.Fprintf(os.Stderr, "  anonvote-node --api.port=9090\n\n")
		fmt.Fprintf(os.Stderr, "  # Tally poll 3 of a remote ledger\n")
		fmt.Fprintf(os.Stderr, "  anonvote-node --api.enabled=false --ledger.url=http://ledger:9090 --tallier.enabled --tallier.pollID=3 --tallier.privkey=0x123...\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("ANONVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	if !slices.Contains([]string{db.TypePebble, db.TypeLevelDB, db.TypeMongo, db.TypeInMem}, cfg.DB.Type) {
		return fmt.Errorf("invalid database type %q", cfg.DB.Type)
	}
	if cfg.DB.Type == db.TypeMongo && cfg.DB.MongoURI == "" {
		return fmt.Errorf("db.mongoURI is required by the mongodb backend")
	}
	if cfg.API.Enabled && cfg.Ledger.URL != "" {
		return fmt.Errorf("the API serves the local ledger, disable it when using ledger.url")
	}
	if !cfg.API.Enabled && !cfg.Tallier.Enabled {
		return fmt.Errorf("nothing to run, enable the API or the tallier")
	}
	if cfg.Tallier.Enabled {
		if cfg.Tallier.PrivKey == "" {
			return fmt.Errorf("tallier private key is required (use --tallier.privkey flag or ANONVOTE_TALLIER_PRIVKEY environment variable)")
		}
		if cfg.Tallier.PollID == 0 {
			return fmt.Errorf("tallier.pollID is required")
		}
	}
	switch cfg.Prover.Type {
	case proverDebug:
	case proverCircom:
		if cfg.Tallier.Enabled && (cfg.Prover.TallyWasm == "" || cfg.Prover.TallyZkey == "") {
			return fmt.Errorf("the circom prover needs prover.tallyWasm and prover.tallyZkey")
		}
		if cfg.Ledger.URL == "" && (cfg.Prover.TallyVkey == "" || cfg.Prover.VoteVkey == "") {
			return fmt.Errorf("a local ledger with the circom prover needs prover.tallyVkey and prover.voteVkey")
		}
	default:
		return fmt.Errorf("invalid prover type %q", cfg.Prover.Type)
	}
	return nil
}
