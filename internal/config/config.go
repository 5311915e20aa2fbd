// Package config holds the process settings. Every flag falls back to a
// TICKET_SCAN_* environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	"github.com/Abdullah1738/ticket-scan/internal/storage"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/pflag"
)

type Config struct {
	DBDriver string
	DBDSN    string
	DBSchema string
	DBPath   string

	RPCURL      string
	RPCUser     string
	RPCPassword string

	Network          string
	ActivationHeight uint32
	AuthorityKeys    []string

	PollInterval time.Duration
	ZMQHashBlock string

	BrokerDriver       string
	BrokerURL          string
	BrokerTopic        string
	BrokerPollInterval time.Duration
	BrokerBatchSize    int

	MetricsListen string
	LogLevel      string
}

// AddFlags registers every setting on fs with its environment default.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBDriver, "db-driver", getenv("TICKET_SCAN_DB_DRIVER", "rocksdb"), "KV backend (rocksdb, postgres, mysql)")
	fs.StringVar(&c.DBDSN, "db-dsn", getenv("TICKET_SCAN_DB_DSN", ""), "Database DSN for postgres/mysql")
	fs.StringVar(&c.DBSchema, "db-schema", getenv("TICKET_SCAN_DB_SCHEMA", ""), "Postgres schema for the kv table (optional)")
	fs.StringVar(&c.DBPath, "db-path", getenv("TICKET_SCAN_DB_PATH", "ticket-scan.db"), "Pebble directory when db-driver=rocksdb")

	fs.StringVar(&c.RPCURL, "rpc-url", getenv("TICKET_SCAN_RPC_URL", "http://127.0.0.1:8332"), "Node JSON-RPC URL")
	fs.StringVar(&c.RPCUser, "rpc-user", getenv("TICKET_SCAN_RPC_USER", ""), "Node RPC username")
	fs.StringVar(&c.RPCPassword, "rpc-pass", getenv("TICKET_SCAN_RPC_PASS", ""), "Node RPC password")

	fs.StringVar(&c.Network, "network", getenv("TICKET_SCAN_NETWORK", "mainnet"), "Chain parameters (mainnet, testnet, regtest)")
	fs.Uint32Var(&c.ActivationHeight, "activation-height", getenvUint32("TICKET_SCAN_ACTIVATION_HEIGHT", indexer.DefaultActivationHeight), "First height that can carry tickets")
	fs.StringSliceVar(&c.AuthorityKeys, "authority-key", getenvList("TICKET_SCAN_AUTHORITY_KEYS"), "Trusted issuance authority public key (hex, repeatable)")

	fs.DurationVar(&c.PollInterval, "poll-interval", getenvDuration("TICKET_SCAN_POLL_INTERVAL", 2*time.Second), "Poll interval for new blocks")
	fs.StringVar(&c.ZMQHashBlock, "zmq-hashblock", getenv("TICKET_SCAN_ZMQ_HASHBLOCK", ""), "Optional ZMQ endpoint for hashblock notifications (tcp://host:port)")

	fs.StringVar(&c.BrokerDriver, "broker-driver", getenv("TICKET_SCAN_BROKER_DRIVER", "none"), "Message broker driver (none, kafka, nats, rabbitmq)")
	fs.StringVar(&c.BrokerURL, "broker-url", getenv("TICKET_SCAN_BROKER_URL", ""), "Message broker URL")
	fs.StringVar(&c.BrokerTopic, "broker-topic", getenv("TICKET_SCAN_BROKER_TOPIC", "ticket.scan.events"), "Message broker topic/subject/queue name")
	fs.DurationVar(&c.BrokerPollInterval, "broker-poll-interval", getenvDuration("TICKET_SCAN_BROKER_POLL_INTERVAL", 500*time.Millisecond), "Broker outbox poll interval")
	fs.IntVar(&c.BrokerBatchSize, "broker-batch-size", getenvInt("TICKET_SCAN_BROKER_BATCH_SIZE", 1000), "Broker outbox batch size")

	fs.StringVar(&c.MetricsListen, "metrics-listen", getenv("TICKET_SCAN_METRICS_LISTEN", "127.0.0.1:9464"), "Prometheus listen address (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", getenv("TICKET_SCAN_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
}

// Params resolves the configured network.
func (c Config) Params() (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(c.Network)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown network %q", c.Network)
	}
}

func (c Config) Storage() storage.Config {
	return storage.Config{
		Driver: c.DBDriver,
		DSN:    c.DBDSN,
		Schema: c.DBSchema,
		Path:   c.DBPath,
	}
}

func (c Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("config: rpc-url is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll-interval must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
