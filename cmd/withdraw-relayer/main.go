package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/addressbook"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/blobstore"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	dedupbolt "github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup/bbolt"
	deduppg "github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup/postgres"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/eth"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/metrics"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/notify"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/proofclient"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/queue"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/secrets"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/statusapi"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawfinalizer"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawwatcher"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	eventsNone = "none"
)

type config struct {
	l1RPC     string
	l2RPC     string
	l1ChainID uint64
	l2ChainID uint64

	oracleURL     string
	oracleTimeout time.Duration

	privateKeyRef string

	addressesFile string
	l1TokenBridge string
	l2TokenBridge string
	l1ETHBridge   string
	l2ETHBridge   string
	book          addressbook.Book

	dedupDriver string
	dataDir     string
	boltPath    string
	postgresDSN string

	blobDriver string
	blobBucket string
	blobPrefix string

	eventsDriver      string
	eventsBrokers     string
	eventsTopicPrefix string

	listenAddr    string
	statusAuthEnv string

	logFormat string
	logLevel  string

	interval       time.Duration
	errorInterval  time.Duration
	maxBlockRange  uint64
	startBlock     uint64
	confirmations  uint64
	receiptTimeout time.Duration
	abandonAfter   time.Duration

	gasLimit          uint64
	gasPriceMargin    int
	maxGasPriceWei    string
	maxGasPrice       *big.Int
	bumpPercent       int
	preflight         bool
	alertAfterAttempt int
	alertAfterAge     time.Duration
	alertRepeat       time.Duration
}

func main() {
	// A missing .env is normal in deployed environments.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: load .env: %v\n", err)
		os.Exit(2)
	}

	cfg, err := parseArgs(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.logFormat, cfg.logLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("withdraw relayer stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown", "reason", ctx.Err())
}

func parseArgs(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("withdraw-relayer", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.l1RPC, "l1-rpc-url", getenv("L1_RPC_URL"), "L1 JSON-RPC endpoint (env L1_RPC_URL)")
	fs.StringVar(&cfg.l2RPC, "l2-rpc-url", getenv("L2_RPC_URL"), "L2 JSON-RPC endpoint (env L2_RPC_URL)")
	fs.Uint64Var(&cfg.l1ChainID, "l1-chain-id", 0, "expected L1 chain id; 0 => use the node's")
	fs.Uint64Var(&cfg.l2ChainID, "l2-chain-id", 0, "expected L2 chain id; 0 => skip the check")

	fs.StringVar(&cfg.oracleURL, "bridge-history-api", getenv("BRIDGE_HISTORY_API"), "bridge history API base URL (env BRIDGE_HISTORY_API)")
	fs.DurationVar(&cfg.oracleTimeout, "oracle-timeout", 30*time.Second, "proof oracle request timeout")

	fs.StringVar(&cfg.privateKeyRef, "private-key-ref", envOr(getenv, "RELAYER_PRIVATE_KEY_REF", "env:RELAYER_PRIVATE_KEY"), "relayer key reference: env:NAME or aws-sm:SECRET_ID[#field]")

	fs.StringVar(&cfg.addressesFile, "addresses-file", getenv("ADDRESSES_FILE"), "addresses.json with l1/l2 and eth.l1/eth.l2 bridges")
	fs.StringVar(&cfg.l1TokenBridge, "l1-token-bridge", "", "L1 token gateway (overrides addresses file)")
	fs.StringVar(&cfg.l2TokenBridge, "l2-token-bridge", "", "L2 token gateway (overrides addresses file)")
	fs.StringVar(&cfg.l1ETHBridge, "l1-eth-bridge", "", "L1 ETH gateway (overrides addresses file)")
	fs.StringVar(&cfg.l2ETHBridge, "l2-eth-bridge", "", "L2 ETH gateway (overrides addresses file)")

	fs.StringVar(&cfg.dedupDriver, "dedup-driver", dedup.DriverFile, "dedup store: file|memory|bbolt|postgres")
	fs.StringVar(&cfg.dataDir, "data-dir", ".", "directory for the file dedup store")
	fs.StringVar(&cfg.boltPath, "bbolt-path", "relayer.db", "database path for the bbolt dedup store")
	fs.StringVar(&cfg.postgresDSN, "postgres-dsn", getenv("POSTGRES_DSN"), "Postgres DSN for the postgres dedup store")

	fs.StringVar(&cfg.blobDriver, "blob-driver", blobstore.DriverNone, "claim/submission artifact store: none|memory|s3")
	fs.StringVar(&cfg.blobBucket, "blob-bucket", "", "S3 bucket (required for s3)")
	fs.StringVar(&cfg.blobPrefix, "blob-prefix", "", "artifact key prefix")

	fs.StringVar(&cfg.eventsDriver, "events-driver", eventsNone, "finalized/stuck events: none|stdio|kafka")
	fs.StringVar(&cfg.eventsBrokers, "events-brokers", "", "comma-separated kafka brokers (required for kafka)")
	fs.StringVar(&cfg.eventsTopicPrefix, "events-topic-prefix", "", "prefix for event topics")

	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "status/metrics listen address; empty disables")
	fs.StringVar(&cfg.statusAuthEnv, "status-auth-env", "RELAYER_STATUS_TOKEN", "env var with the bearer token for /v1 routes; unset => open")

	fs.StringVar(&cfg.logFormat, "log-format", "text", "log format: text|json|tint")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	fs.DurationVar(&cfg.interval, "poll-interval", withdrawwatcher.DefaultInterval, "pause after a clean cycle")
	fs.DurationVar(&cfg.errorInterval, "error-interval", withdrawwatcher.DefaultErrorInterval, "pause after a failed cycle")
	fs.Uint64Var(&cfg.maxBlockRange, "max-block-range", withdrawwatcher.DefaultMaxBlockRange, "maximum L2 blocks per log query")
	fs.Uint64Var(&cfg.startBlock, "start-block", 0, "first L2 block to scan when no cursor is stored; 0 => current head")
	fs.Uint64Var(&cfg.confirmations, "confirmations", 0, "L2 blocks to stay behind head")
	fs.DurationVar(&cfg.receiptTimeout, "receipt-timeout", withdrawfinalizer.DefaultReceiptTimeout, "in-cycle wait for a finalization receipt")
	fs.DurationVar(&cfg.abandonAfter, "abandon-after", withdrawfinalizer.DefaultAbandonAfter, "age after which an unmined finalization is replaced at the same nonce")

	fs.Uint64Var(&cfg.gasLimit, "gas-limit", eth.DefaultFinalizeGasLimit, "finalization gas limit")
	fs.IntVar(&cfg.gasPriceMargin, "gas-price-margin", eth.DefaultGasPriceMarginPercent, "percent added to the suggested gas price; negative disables")
	fs.StringVar(&cfg.maxGasPriceWei, "max-gas-price-wei", "", "gas price cap in wei; empty => uncapped")
	fs.IntVar(&cfg.bumpPercent, "replacement-bump-percent", eth.DefaultReplacementBumpPercent, "gas price bump for same-nonce replacements")
	fs.BoolVar(&cfg.preflight, "preflight", true, "simulate finalization with eth_call before broadcasting")
	fs.IntVar(&cfg.alertAfterAttempt, "alert-after-attempts", withdrawfinalizer.DefaultAlertAfterAttempts, "attempts before a withdrawal is reported stuck; negative disables")
	fs.DurationVar(&cfg.alertAfterAge, "alert-after-age", withdrawfinalizer.DefaultAlertAfterAge, "pending age before a withdrawal is reported stuck; negative disables")
	fs.DurationVar(&cfg.alertRepeat, "alert-repeat", withdrawfinalizer.DefaultAlertRepeat, "minimum gap between stuck reports for one withdrawal")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := validateConfig(&cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg *config) error {
	if strings.TrimSpace(cfg.l1RPC) == "" || strings.TrimSpace(cfg.l2RPC) == "" || strings.TrimSpace(cfg.oracleURL) == "" {
		return errors.New("--l1-rpc-url, --l2-rpc-url and --bridge-history-api are required")
	}
	if _, err := secrets.ParseRef(cfg.privateKeyRef); err != nil {
		return fmt.Errorf("--private-key-ref: %w", err)
	}

	var book addressbook.Book
	if cfg.addressesFile != "" {
		b, err := addressbook.Load(cfg.addressesFile)
		if err != nil {
			return err
		}
		book = b
	}
	var flags addressbook.Book
	for _, f := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"--l1-token-bridge", cfg.l1TokenBridge, &flags.Token.L1Bridge},
		{"--l2-token-bridge", cfg.l2TokenBridge, &flags.Token.L2Bridge},
		{"--l1-eth-bridge", cfg.l1ETHBridge, &flags.ETH.L1Bridge},
		{"--l2-eth-bridge", cfg.l2ETHBridge, &flags.ETH.L2Bridge},
	} {
		a, err := addressbook.ParseAddress(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = a
	}
	book = book.Override(flags)
	if book.Token.Empty() && book.ETH.Empty() {
		return errors.New("no bridges configured: set --addresses-file or the --l1-*/--l2-* bridge flags")
	}
	for _, kind := range withdrawal.Kinds() {
		p := book.Pair(kind)
		if !p.Empty() && (p.L1Bridge == common.Address{} || p.L2Bridge == common.Address{}) {
			return fmt.Errorf("%s bridge must be set on both L1 and L2", kind)
		}
	}
	cfg.book = book

	switch cfg.dedupDriver {
	case dedup.DriverFile:
		if strings.TrimSpace(cfg.dataDir) == "" {
			return errors.New("--data-dir is required for the file store")
		}
	case dedup.DriverMemory:
	case dedup.DriverBolt:
		if strings.TrimSpace(cfg.boltPath) == "" {
			return errors.New("--bbolt-path is required for the bbolt store")
		}
	case dedup.DriverPostgres:
		if strings.TrimSpace(cfg.postgresDSN) == "" {
			return errors.New("--postgres-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("--dedup-driver: unknown driver %q", cfg.dedupDriver)
	}

	switch cfg.blobDriver {
	case blobstore.DriverNone, blobstore.DriverMemory:
	case blobstore.DriverS3:
		if strings.TrimSpace(cfg.blobBucket) == "" {
			return errors.New("--blob-bucket is required for s3")
		}
	default:
		return fmt.Errorf("--blob-driver: unknown driver %q", cfg.blobDriver)
	}

	switch cfg.eventsDriver {
	case eventsNone, queue.DriverStdio:
	case queue.DriverKafka:
		if len(queue.SplitCommaList(cfg.eventsBrokers)) == 0 {
			return errors.New("--events-brokers is required for kafka")
		}
	default:
		return fmt.Errorf("--events-driver: unknown driver %q", cfg.eventsDriver)
	}

	if cfg.interval <= 0 || cfg.errorInterval <= 0 || cfg.receiptTimeout <= 0 || cfg.abandonAfter <= 0 || cfg.oracleTimeout <= 0 {
		return errors.New("intervals and timeouts must be > 0")
	}
	if cfg.abandonAfter < cfg.receiptTimeout {
		return errors.New("--abandon-after must be >= --receipt-timeout")
	}
	if cfg.maxBlockRange == 0 || cfg.gasLimit == 0 {
		return errors.New("--max-block-range and --gas-limit must be > 0")
	}
	if cfg.alertAfterAttempt == 0 || cfg.alertAfterAge == 0 || cfg.alertRepeat <= 0 {
		return errors.New("alert thresholds must be non-zero (negative disables) and --alert-repeat > 0")
	}
	if cfg.bumpPercent < eth.MinReplacementBumpPercent {
		return fmt.Errorf("--replacement-bump-percent must be >= %d", eth.MinReplacementBumpPercent)
	}
	if cfg.maxGasPriceWei != "" {
		v, ok := new(big.Int).SetString(strings.TrimSpace(cfg.maxGasPriceWei), 10)
		if !ok || v.Sign() <= 0 {
			return errors.New("--max-gas-price-wei must be a positive integer")
		}
		cfg.maxGasPrice = v
	}
	if _, err := parseLevel(cfg.logLevel); err != nil {
		return err
	}
	switch cfg.logFormat {
	case "text", "json", "tint":
	default:
		return fmt.Errorf("--log-format: unknown format %q", cfg.logFormat)
	}
	return nil
}

func envOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("--log-level: %w", err)
	}
	return lvl, nil
}

func newLogger(format, level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "tint":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.DateTime})), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	resolver := secrets.Resolver{
		Env: secrets.NewEnv(),
		AWS: func(ctx context.Context) (secrets.Provider, error) { return secrets.NewAWS(ctx) },
	}
	keyRef, err := secrets.ParseRef(cfg.privateKeyRef)
	if err != nil {
		return err
	}
	keyHex, err := resolver.Resolve(ctx, keyRef)
	if err != nil {
		return fmt.Errorf("resolve relayer key %s: %w", keyRef, err)
	}
	signer, err := eth.NewLocalSignerFromHex(keyHex)
	if err != nil {
		return fmt.Errorf("parse relayer key: %w", err)
	}

	l1rpc, err := ethclient.DialContext(ctx, cfg.l1RPC)
	if err != nil {
		return fmt.Errorf("dial l1: %w", err)
	}
	defer l1rpc.Close()
	l2rpc, err := ethclient.DialContext(ctx, cfg.l2RPC)
	if err != nil {
		return fmt.Errorf("dial l2: %w", err)
	}
	defer l2rpc.Close()

	l1ChainID, err := checkChainID(ctx, l1rpc, cfg.l1ChainID)
	if err != nil {
		return fmt.Errorf("l1: %w", err)
	}
	if _, err := checkChainID(ctx, l2rpc, cfg.l2ChainID); err != nil {
		return fmt.Errorf("l2: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l1, err := eth.NewL1Client(l1rpc, signer, eth.L1Config{
		ChainID:                l1ChainID,
		GasLimit:               cfg.gasLimit,
		GasPriceMarginPercent:  cfg.gasPriceMargin,
		MaxGasPrice:            cfg.maxGasPrice,
		ReplacementBumpPercent: cfg.bumpPercent,
		Preflight:              cfg.preflight,
	})
	if err != nil {
		return fmt.Errorf("init l1 client: %w", err)
	}
	l2, err := eth.NewL2Client(l2rpc, eth.DefaultEventSources(cfg.book.ETH.L2Bridge, cfg.book.Token.L2Bridge))
	if err != nil {
		return fmt.Errorf("init l2 client: %w", err)
	}

	oracle, err := proofclient.NewHTTPClient(cfg.oracleURL, proofclient.WithHTTPClient(&http.Client{Timeout: cfg.oracleTimeout}))
	if err != nil {
		return fmt.Errorf("init proof oracle client: %w", err)
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := openNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	fin, err := withdrawfinalizer.New(withdrawfinalizer.Config{
		L1Bridges:          cfg.book.L1Bridges(),
		ReceiptTimeout:     cfg.receiptTimeout,
		AbandonAfter:       cfg.abandonAfter,
		AlertAfterAttempts: cfg.alertAfterAttempt,
		AlertAfterAge:      cfg.alertAfterAge,
		AlertRepeat:        cfg.alertRepeat,
	}, store, oracle, l1, log.With("component", "finalizer"))
	if err != nil {
		return fmt.Errorf("init relay engine: %w", err)
	}
	fin.WithBlobStore(blobs).WithNotifier(notifier).WithMetrics(m)

	watcher, err := withdrawwatcher.New(withdrawwatcher.Config{
		MaxBlockRange: cfg.maxBlockRange,
		StartBlock:    cfg.startBlock,
		Confirmations: cfg.confirmations,
		Interval:      cfg.interval,
		ErrorInterval: cfg.errorInterval,
	}, store, l2, fin, log.With("component", "watcher"))
	if err != nil {
		return fmt.Errorf("init poll loop: %w", err)
	}
	watcher.WithMetrics(m)

	if cfg.listenAddr != "" {
		srv := &http.Server{
			Addr: cfg.listenAddr,
			Handler: statusapi.NewHandler(store, fin, statusapi.Config{
				AuthToken: os.Getenv(cfg.statusAuthEnv),
				Gatherer:  reg,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	bridges := make([]any, 0, 4)
	for kind, addr := range cfg.book.L1Bridges() {
		bridges = append(bridges, "l1_"+kind.String()+"_bridge", addr.Hex())
	}
	log.Info("withdraw relayer started",
		append([]any{
			"relayer", signer.Address().Hex(),
			"l1ChainID", l1ChainID.String(),
			"dedupDriver", cfg.dedupDriver,
			"blobDriver", cfg.blobDriver,
			"eventsDriver", cfg.eventsDriver,
			"pollInterval", cfg.interval.String(),
			"listen", cfg.listenAddr,
		}, bridges...)...,
	)

	return watcher.Run(ctx)
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// checkChainID returns the node's chain id, failing when want is set and differs.
func checkChainID(ctx context.Context, c chainIDReader, want uint64) (*big.Int, error) {
	got, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if want != 0 && (!got.IsUint64() || got.Uint64() != want) {
		return nil, fmt.Errorf("chain id mismatch: node=%s want=%d", got, want)
	}
	return got, nil
}

func openStore(ctx context.Context, cfg config) (dedup.Store, error) {
	switch cfg.dedupDriver {
	case dedup.DriverMemory:
		return dedup.NewMemoryStore(), nil
	case dedup.DriverBolt:
		s, err := dedupbolt.Open(cfg.boltPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt store: %w", err)
		}
		return s, nil
	case dedup.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init pgx pool: %w", err)
		}
		s, err := deduppg.New(pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure dedup schema: %w", err)
		}
		return &pooledStore{Store: s, pool: pool}, nil
	default:
		s, err := dedup.OpenFileStore(cfg.dataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	}
}

// pooledStore closes the pgx pool it was built on.
type pooledStore struct {
	*deduppg.Store
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

func openBlobStore(ctx context.Context, cfg config) (blobstore.Store, error) {
	bc := blobstore.Config{Driver: cfg.blobDriver, Prefix: cfg.blobPrefix, Bucket: cfg.blobBucket}
	if cfg.blobDriver == blobstore.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		bc.S3Client = s3.NewFromConfig(awsCfg)
	}
	s, err := blobstore.New(bc)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	return s, nil
}

func openNotifier(cfg config) (notify.Notifier, func(), error) {
	if cfg.eventsDriver == eventsNone {
		return notify.Nop{}, func() {}, nil
	}
	p, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  cfg.eventsDriver,
		Brokers: queue.SplitCommaList(cfg.eventsBrokers),
		Writer:  os.Stdout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init events producer: %w", err)
	}
	n, err := notify.NewQueueNotifier(p, cfg.eventsTopicPrefix)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return n, func() { _ = p.Close() }, nil
}
