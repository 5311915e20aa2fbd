package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/broker"
	"github.com/Abdullah1738/ticket-scan/internal/config"
	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/logging"
	"github.com/Abdullah1738/ticket-scan/internal/metrics"
	"github.com/Abdullah1738/ticket-scan/internal/node"
	"github.com/Abdullah1738/ticket-scan/internal/publisher"
	"github.com/Abdullah1738/ticket-scan/internal/scanner"
	"github.com/Abdullah1738/ticket-scan/internal/storage"
	"github.com/Abdullah1738/ticket-scan/internal/store/rocksdb"
	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/Abdullah1738/ticket-scan/internal/zmq"
	sdkjunocashd "github.com/Abdullah1738/juno-sdk-go/junocashd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: ticket-scan <command> [flags]

commands:
  run        follow the node and keep the ticket index current
  rollback   unindex blocks above -height
  tickets    list ticket txids paying -address (-meta resolves them via the node)
  redeemed   show the redemption of issuance -hash
  header     show the indexed block header at -height
  hashes     list ticket txids indexed in -start..-end

With the default rocksdb driver the store is held by one process at a time:
stop "ticket-scan run" before rollback or queries against the same -db-path.
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ticket-scan: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return pflag.ErrHelp
	}
	name := args[0]

	var cfg config.Config
	fs := pflag.NewFlagSet("ticket-scan "+name, pflag.ContinueOnError)
	cfg.AddFlags(fs)

	var cmd func(ctx context.Context, a *app) error
	switch name {
	case "run":
		cmd = runScanner
	case "rollback":
		height := fs.Uint32("height", 0, "Keep blocks up to and including this height")
		cmd = func(ctx context.Context, a *app) error { return a.rollback(ctx, *height) }
	case "tickets":
		q := ticketsFlags(fs)
		cmd = func(ctx context.Context, a *app) error { return a.tickets(ctx, q) }
	case "redeemed":
		hash := fs.String("hash", "", "Issuance txid")
		cmd = func(ctx context.Context, a *app) error { return a.redeemed(ctx, *hash) }
	case "header":
		height := fs.Uint32("height", 0, "Block height")
		cmd = func(ctx context.Context, a *app) error { return a.header(ctx, *height) }
	case "hashes":
		q := hashesFlags(fs)
		cmd = func(ctx context.Context, a *app) error { return a.hashes(ctx, q) }
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	st, err := storage.Open(ctx, cfg.Storage())
	if errors.Is(err, rocksdb.ErrLocked) {
		return fmt.Errorf("%w; stop \"ticket-scan run\" first or use a shared database driver", err)
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	a := &app{cfg: cfg, st: st, log: log, out: stdout}
	return cmd(ctx, a)
}

type app struct {
	cfg config.Config
	st  kv.Store
	log *slog.Logger
	out io.Writer
}

func (a *app) node() (*node.Client, error) {
	return node.New(sdkjunocashd.New(a.cfg.RPCURL, a.cfg.RPCUser, a.cfg.RPCPassword))
}

// wire builds the indexer, node adapter and scanner shared by run and
// rollback.
func (a *app) wire(ctx context.Context, wake <-chan zmq.Notification) (*indexer.TicketIndexer, *scanner.Scanner, error) {
	params, err := a.cfg.Params()
	if err != nil {
		return nil, nil, err
	}
	v, err := ticket.NewValidator(params, a.cfg.AuthorityKeys)
	if err != nil {
		return nil, nil, err
	}
	n, err := a.node()
	if err != nil {
		return nil, nil, err
	}
	idx, err := indexer.Open(ctx, a.st, indexer.Config{
		ActivationHeight: a.cfg.ActivationHeight,
		Validator:        v,
		TxMeta:           n,
		Logger:           a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	sc, err := scanner.New(idx, n, scanner.Config{
		PollInterval: a.cfg.PollInterval,
		Wake:         wake,
		Logger:       a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return idx, sc, nil
}

func runScanner(ctx context.Context, a *app) error {
	var wake chan zmq.Notification
	if a.cfg.ZMQHashBlock != "" {
		wake = make(chan zmq.Notification, 1)
	}
	_, sc, err := a.wire(ctx, wake)
	if err != nil {
		return err
	}

	br, err := broker.Open(ctx, broker.Config{Driver: a.cfg.BrokerDriver, URL: a.cfg.BrokerURL, Topic: a.cfg.BrokerTopic})
	if err != nil {
		return err
	}
	if br != nil {
		defer func() { _ = br.Close() }()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sc.Run(ctx) })

	if wake != nil {
		g.Go(func() error {
			return zmq.Subscribe(ctx, zmq.Config{Endpoint: a.cfg.ZMQHashBlock, Logger: a.log}, wake)
		})
	}

	if br != nil {
		pub, err := publisher.New(a.st, br, publisher.Config{
			PollInterval: a.cfg.BrokerPollInterval,
			BatchSize:    a.cfg.BrokerBatchSize,
			Logger:       a.log,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return pub.Run(ctx) })
	}

	if a.cfg.MetricsListen != "" {
		srv, err := a.metricsServer()
		if err != nil {
			return err
		}
		g.Go(func() error {
			a.log.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("ticket-scan started", "network", a.cfg.Network, "db", a.cfg.DBDriver, "activation", a.cfg.ActivationHeight)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.log.Info("ticket-scan stopped")
		return nil
	}
	return err
}

func (a *app) metricsServer() (*http.Server, error) {
	reg := prometheus.NewRegistry()
	extra := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if rs, ok := a.st.(*rocksdb.Store); ok {
		extra = append(extra, rocksdb.NewCollector(rs))
	}
	if err := metrics.Register(reg, extra...); err != nil {
		return nil, fmt.Errorf("metrics: register: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return &http.Server{
		Addr:              a.cfg.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
