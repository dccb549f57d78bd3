// Package config loads the node configuration from a YAML file with TL_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/chain"
	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/core"
	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"
	"TradeLedger/internal/server"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string                `yaml:"data_dir"`
	LogLevel    string                `yaml:"log_level"`
	LogFile     observability.LogFile `yaml:"log_file"`
	Engine      EngineConfig          `yaml:"engine"`
	Persistence persistence.Config    `yaml:"persistence"`
	Archive     ArchiveConfig         `yaml:"archive"`
	NATS        NATSConfig            `yaml:"nats"`
	Chain       ChainConfig           `yaml:"chain"`
	Server      server.Config         `yaml:"server"`
}

// EngineConfig holds the consensus parameters. Features maps a feature
// name or id to its activation height.
type EngineConfig struct {
	ActivationAuthority string            `yaml:"activation_authority"`
	Features            map[string]int64  `yaml:"features"`
	MetaDExTakerFeeBps  int64             `yaml:"metadex_taker_fee_bps"`
	MetaDExMakerRebate  int64             `yaml:"metadex_maker_rebate_bps"`
	ContractDEx         ContractDExConfig `yaml:"contractdex"`
	DedupCapacity       int               `yaml:"dedup_capacity"`
}

type ContractDExConfig struct {
	TakerFeeBps    int64 `yaml:"taker_fee_bps"`
	MakerRebateBps int64 `yaml:"maker_rebate_bps"`
	MarginCallPct  int64 `yaml:"margin_call_pct"`
	LiquidationPct int64 `yaml:"liquidation_pct"`
}

// ArchiveConfig locates the Postgres trade archive. An empty DSN disables
// it.
type ArchiveConfig struct {
	DSN           string        `yaml:"dsn"`
	MigrationsDir string        `yaml:"migrations_dir"`
	BatchSize     int           `yaml:"batch_size"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
	ChanSize      int           `yaml:"chan_size"`
}

type NATSConfig struct {
	URL             string                 `yaml:"url"`
	Streams         ingestion.StreamConfig `yaml:"streams"`
	BlockChanSize   int                    `yaml:"block_chan_size"`
	PublishChanSize int                    `yaml:"publish_chan_size"`
}

// ChainConfig locates the base chain node. Recovery and reorg handling
// read block headers from it; payments are checked against it only when
// VerifyPayments is set.
type ChainConfig struct {
	Network        string          `yaml:"network"`
	RPC            chain.RPCConfig `yaml:"rpc"`
	CacheSize      int             `yaml:"cache_size"`
	VerifyPayments bool            `yaml:"verify_payments"`
}

func Default() Config {
	md := metadex.DefaultParams()
	cd := contractdex.DefaultParams()
	return Config{
		DataDir:  "data",
		LogLevel: "info",
		LogFile: observability.LogFile{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Engine: EngineConfig{
			Features:           map[string]int64{},
			MetaDExTakerFeeBps: md.TakerFeeBps,
			MetaDExMakerRebate: md.MakerRebateBps,
			ContractDEx: ContractDExConfig{
				TakerFeeBps:    cd.TakerFeeBps,
				MakerRebateBps: cd.MakerRebateBps,
				MarginCallPct:  cd.MarginCallPct,
				LiquidationPct: cd.LiquidationPct,
			},
			DedupCapacity: 1_000_000,
		},
		Persistence: persistence.DefaultConfig(),
		Archive: ArchiveConfig{
			MigrationsDir: "migrations",
			BatchSize:     50,
			FlushTimeout:  100 * time.Millisecond,
			ChanSize:      1024,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			Streams:         ingestion.DefaultStreamConfig(),
			BlockChanSize:   256,
			PublishChanSize: 4096,
		},
		Chain: ChainConfig{
			Network:   "mainnet",
			RPC:       chain.RPCConfig{Host: "localhost:8332"},
			CacheSize: 10_000,
		},
		Server: server.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int64) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("TL_DATA_DIR", &c.DataDir)
	str("TL_LOG_LEVEL", &c.LogLevel)
	str("TL_LOG_FILE", &c.LogFile.Path)
	str("TL_ACTIVATION_AUTHORITY", &c.Engine.ActivationAuthority)
	str("TL_POSTGRES_DSN", &c.Archive.DSN)
	str("TL_MIGRATIONS_DIR", &c.Archive.MigrationsDir)
	str("TL_NATS_URL", &c.NATS.URL)
	str("TL_CHAIN_NETWORK", &c.Chain.Network)
	str("TL_RPC_HOST", &c.Chain.RPC.Host)
	str("TL_RPC_USER", &c.Chain.RPC.User)
	str("TL_RPC_PASS", &c.Chain.RPC.Pass)
	str("TL_GRPC_ADDR", &c.Server.GRPCAddr)
	str("TL_HTTP_ADDR", &c.Server.HTTPAddr)
	if err := num("TL_SNAPSHOT_EVERY", &c.Persistence.SnapshotEvery); err != nil {
		return err
	}
	return num("TL_MAX_STATE_HISTORY", &c.Persistence.MaxStateHistory)
}

var ErrInvalid = errors.New("invalid config")

// Validate checks the values the node cannot start without.
func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	case c.NATS.URL == "":
		return fmt.Errorf("%w: nats.url is required", ErrInvalid)
	case c.NATS.Streams.BlockStream == "" || c.NATS.Streams.BlockSubject == "":
		return fmt.Errorf("%w: nats block stream and subject are required", ErrInvalid)
	case c.Persistence.MaxStateHistory < 1:
		return fmt.Errorf("%w: persistence.max_state_history must be positive", ErrInvalid)
	case c.Persistence.SnapshotEvery < 1 || c.Persistence.SnapshotEvery > c.Persistence.MaxStateHistory:
		return fmt.Errorf("%w: persistence.snapshot_every must be in [1, max_state_history]", ErrInvalid)
	case c.Engine.ContractDEx.MarginCallPct >= c.Engine.ContractDEx.LiquidationPct:
		return fmt.Errorf("%w: contractdex.margin_call_pct must be below liquidation_pct", ErrInvalid)
	case c.Chain.RPC.Host == "":
		return fmt.Errorf("%w: chain.rpc.host is required", ErrInvalid)
	case c.Archive.DSN != "" && c.Archive.MigrationsDir == "":
		return fmt.Errorf("%w: archive.migrations_dir is required with a dsn", ErrInvalid)
	}
	if _, err := chain.Params(c.Chain.Network); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.features(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c Config) features() (map[activation.Feature]int64, error) {
	out := make(map[activation.Feature]int64, len(c.Engine.Features))
	for name, height := range c.Engine.Features {
		f, err := activation.ParseFeature(name)
		if err != nil {
			return nil, err
		}
		if height < 0 {
			return nil, fmt.Errorf("feature %s: negative activation height %d", name, height)
		}
		out[f] = height
	}
	return out, nil
}

// Core returns the engine configuration. Call after Validate.
func (c Config) Core() core.Config {
	features, _ := c.features()
	return core.Config{
		ActivationAuthority: c.Engine.ActivationAuthority,
		Features:            features,
		MetaDEx: metadex.Params{
			TakerFeeBps:    c.Engine.MetaDExTakerFeeBps,
			MakerRebateBps: c.Engine.MetaDExMakerRebate,
		},
		ContractDEx: contractdex.Params{
			TakerFeeBps:    c.Engine.ContractDEx.TakerFeeBps,
			MakerRebateBps: c.Engine.ContractDEx.MakerRebateBps,
			MarginCallPct:  c.Engine.ContractDEx.MarginCallPct,
			LiquidationPct: c.Engine.ContractDEx.LiquidationPct,
		},
		DedupCapacity: c.Engine.DedupCapacity,
	}
}

// SnapshotDir is where snapshot files live.
func (c Config) SnapshotDir() string { return filepath.Join(c.DataDir, "snapshots") }

// StateDir is where the LevelDB databases live.
func (c Config) StateDir() string { return filepath.Join(c.DataDir, "state") }
