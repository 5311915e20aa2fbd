package config

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/pflag"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	var c Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func TestAddFlags_Defaults(t *testing.T) {
	c := parse(t)
	if c.DBDriver != "rocksdb" || c.Network != "mainnet" || c.BrokerDriver != "none" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.ActivationHeight != 866600 {
		t.Fatalf("activation=%d", c.ActivationHeight)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAddFlags_EnvFallbackAndOverride(t *testing.T) {
	t.Setenv("TICKET_SCAN_DB_DRIVER", "postgres")
	t.Setenv("TICKET_SCAN_POLL_INTERVAL", "5s")
	t.Setenv("TICKET_SCAN_ACTIVATION_HEIGHT", "10")
	t.Setenv("TICKET_SCAN_AUTHORITY_KEYS", "aa, bb,")
	t.Setenv("TICKET_SCAN_BROKER_BATCH_SIZE", "not-a-number")

	c := parse(t, "--db-driver=mysql", "--authority-key=cc")
	if c.DBDriver != "mysql" {
		t.Fatalf("flag did not override env: %q", c.DBDriver)
	}
	if c.PollInterval != 5*time.Second || c.ActivationHeight != 10 {
		t.Fatalf("env not applied: %+v", c)
	}
	if len(c.AuthorityKeys) != 1 || c.AuthorityKeys[0] != "cc" {
		t.Fatalf("authority keys=%v", c.AuthorityKeys)
	}
	if c.BrokerBatchSize != 1000 {
		t.Fatalf("bad env value should fall back, got %d", c.BrokerBatchSize)
	}

	c = parse(t)
	if len(c.AuthorityKeys) != 2 || c.AuthorityKeys[1] != "bb" {
		t.Fatalf("env authority keys=%v", c.AuthorityKeys)
	}
}

func TestParams(t *testing.T) {
	tests := []struct {
		network string
		want    *chaincfg.Params
	}{
		{"mainnet", &chaincfg.MainNetParams},
		{"TestNet", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
	}
	for _, tc := range tests {
		got, err := Config{Network: tc.network}.Params()
		if err != nil || got != tc.want {
			t.Fatalf("Params(%q) err=%v", tc.network, err)
		}
	}
	if _, err := (Config{Network: "signet"}).Params(); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}

func TestStorage(t *testing.T) {
	c := parse(t, "--db-driver=postgres", "--db-dsn=postgres://x", "--db-schema=s")
	sc := c.Storage()
	if sc.Driver != "postgres" || sc.DSN != "postgres://x" || sc.Schema != "s" {
		t.Fatalf("storage=%+v", sc)
	}
}
