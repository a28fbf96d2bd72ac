package poolsync

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/utils"
)

// Config is the daemon configuration, read from the environment.
type Config struct {
	Ledger ledger.Opts

	PrivateKey       string
	KeystorePath     string
	KeystorePassword string
	// WatchAccount is connected at startup when no signer is configured.
	WatchAccount *common.Address

	// OracleView and OracleEuler are both set or both nil.
	OracleView  *common.Address
	OracleEuler *common.Address

	RefreshInterval   time.Duration
	ReadParallelism   int
	RecipientCapacity int

	Addr         string
	RedisEnabled bool
}

// LoadConfig reads and validates the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		Ledger: ledger.Opts{
			Endpoint:  utils.Env("LEDGER_RPC_URL", "ws://localhost:8546"),
			ChainID:   big.NewInt(utils.EnvInt64("LEDGER_CHAIN_ID", 1)),
			FromBlock: utils.EnvUint64("LEDGER_FROM_BLOCK", 0),
			GasLimit:  utils.EnvUint64("LEDGER_GAS_LIMIT", 500000),
			RPS:       utils.EnvInt("LEDGER_RPS", 20),
			Burst:     utils.EnvInt("LEDGER_BURST", 40),
			Timeout:   utils.EnvDuration("LEDGER_TIMEOUT", 15*time.Second),
		},
		PrivateKey:        strings.TrimSpace(utils.Env("LEDGER_PRIVATE_KEY", "")),
		KeystorePath:      utils.Env("LEDGER_KEYSTORE_PATH", ""),
		KeystorePassword:  utils.Env("LEDGER_KEYSTORE_PASSWORD", ""),
		RefreshInterval:   utils.EnvDuration("POOLSYNC_REFRESH_INTERVAL", 15*time.Second),
		ReadParallelism:   utils.EnvInt("POOLSYNC_READ_PARALLELISM", 8),
		RecipientCapacity: utils.EnvInt("LEDGER_RECIPIENT_CAPACITY", 3),
		Addr:              utils.Env("ADDR", ":3003"),
		RedisEnabled:      utils.EnvBool("REDIS_ENABLED", false),
	}

	pools, err := address("LEDGER_STREAM_POOLS_ADDRESS", true)
	if err != nil {
		return Config{}, err
	}
	cfg.Ledger.PoolsAddress = *pools

	if cfg.WatchAccount, err = address("POOLSYNC_WATCH_ACCOUNT", false); err != nil {
		return Config{}, err
	}
	if cfg.OracleView, err = address("ORACLE_VIEW_ADDRESS", false); err != nil {
		return Config{}, err
	}
	if cfg.OracleEuler, err = address("ORACLE_EULER_ADDRESS", false); err != nil {
		return Config{}, err
	}
	if (cfg.OracleView == nil) != (cfg.OracleEuler == nil) {
		return Config{}, errors.New("ORACLE_VIEW_ADDRESS and ORACLE_EULER_ADDRESS must be set together")
	}
	if cfg.PrivateKey != "" && cfg.KeystorePath != "" {
		return Config{}, errors.New("set only one of LEDGER_PRIVATE_KEY and LEDGER_KEYSTORE_PATH")
	}
	return cfg, nil
}

// Signer builds the configured signer, or nil for a read-only daemon.
func (c Config) Signer() (*ledger.Signer, error) {
	switch {
	case c.PrivateKey != "":
		return ledger.NewSignerFromHex(c.PrivateKey)
	case c.KeystorePath != "":
		return ledger.NewSignerFromKeystore(c.KeystorePath, c.KeystorePassword)
	default:
		return nil, nil
	}
}

// Reconciler returns the reconciler configuration of one view.
func (c Config) Reconciler(view reconciler.View) reconciler.Config {
	return reconciler.Config{
		View:              view,
		RefreshInterval:   c.RefreshInterval,
		ReadParallelism:   c.ReadParallelism,
		RecipientCapacity: c.RecipientCapacity,
	}
}

func address(key string, required bool) (*common.Address, error) {
	raw := strings.TrimSpace(utils.Env(key, ""))
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required", key)
		}
		return nil, nil
	}
	if !common.IsHexAddress(raw) {
		return nil, fmt.Errorf("%s: %q is not a hex address", key, raw)
	}
	a := common.HexToAddress(raw)
	return &a, nil
}
