package routes

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/chain"
	"github.com/interbank/interbank_gateway/internal/config"
	"github.com/interbank/interbank_gateway/internal/directory"
	"github.com/interbank/interbank_gateway/internal/ledger"
	"github.com/interbank/interbank_gateway/internal/middleware"
	"github.com/interbank/interbank_gateway/internal/notification"
	"github.com/interbank/interbank_gateway/internal/otp"
	"github.com/interbank/interbank_gateway/internal/snapshot"
	"github.com/interbank/interbank_gateway/internal/transactions"
	"github.com/interbank/interbank_gateway/internal/transfer"
	"github.com/interbank/interbank_gateway/internal/withdrawal"
	"github.com/interbank/interbank_gateway/internal/workflow"
)

// Deps aggregates shared dependencies required to wire routes. Every client
// is optional: a nil DB, Cache or Eth falls back to an in-process component.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Eth    *ethclient.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	ctx := context.Background()

	store, err := newStore(ctx, d)
	if err != nil {
		return err
	}
	dir, err := directory.LoadFile(d.Cfg.DirectoryPath)
	if err != nil {
		return err
	}
	snapshots := snapshot.NewSource(snapshot.Options{
		URL:     d.Cfg.SnapshotURL,
		Path:    d.Cfg.SnapshotPath,
		Timeout: d.Cfg.BalanceTimeout,
	}, d.Logger)
	client, err := newChainClient(ctx, d, snapshots)
	if err != nil {
		return err
	}

	var verifier otp.Verifier
	if d.Cache != nil {
		verifier = otp.NewRedisVerifier(d.Cache, d.Cfg.OTPTTL, d.Logger)
	} else {
		verifier = otp.NewMemoryVerifier(d.Cfg.OTPTTL)
	}

	resolver := balance.NewResolver(store, client, snapshots, balance.Options{
		Override:        d.Cfg.DemoMode,
		Timeout:         d.Cfg.BalanceTimeout,
		SettlementGrace: d.Cfg.SettlementGrace,
	}, d.Logger)
	txLedger := transactions.NewLedger(store, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	observers := workflow.NewObservers(d.Logger)

	transferSvc := transfer.NewService(resolver, txLedger, client, dir, verifier, notifier, observers, transfer.Options{
		ReceiptTimeout: d.Cfg.ReceiptTimeout,
	}, d.Logger)
	withdrawalSvc := withdrawal.NewService(resolver, txLedger, withdrawal.DelayedBackOffice{Delay: d.Cfg.WithdrawalDelay},
		dir, verifier, notifier, observers, d.Logger)

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c.UserContext()),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	otpLimiter := middleware.OTPRateLimit(d.Cache, d.Cfg.OTPMaxPerMinute, d.Logger)
	RegisterAccountRoutes(api, directory.NewHandler(dir), balance.NewHandler(resolver), snapshot.NewHandler(snapshots))
	RegisterTransactionRoutes(api, transactions.NewHandler(txLedger))
	RegisterTransferRoutes(api, transfer.NewHandler(transferSvc), otpLimiter)
	RegisterWithdrawalRoutes(api, withdrawal.NewHandler(withdrawalSvc), otpLimiter)

	return nil
}

// newStore picks the local ledger store: Postgres, then Redis, then memory.
func newStore(ctx context.Context, d Deps) (ledger.Store, error) {
	switch {
	case d.DB != nil:
		store := ledger.NewPostgresStore(d.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		return store, nil
	case d.Cache != nil:
		return ledger.NewRedisStore(d.Cache), nil
	default:
		d.Logger.Warn("no database configured, ledger is kept in memory")
		return ledger.NewInMemory(), nil
	}
}

// newChainClient returns the RPC-backed client when a node is configured and
// otherwise a simulated ledger seeded from the reference snapshot.
func newChainClient(ctx context.Context, d Deps, snapshots *snapshot.Source) (chain.Client, error) {
	converter, err := chain.NewConverter(d.Cfg.VNDPerETH)
	if err != nil {
		return nil, err
	}
	if d.Eth != nil {
		cfg := chain.EthereumConfig{
			ChainID:        big.NewInt(d.Cfg.ChainID),
			PollInterval:   d.Cfg.ReceiptPollInterval,
			ReceiptTimeout: d.Cfg.ReceiptTimeout,
		}
		if d.Cfg.GasPriceWei > 0 {
			cfg.GasPrice = big.NewInt(d.Cfg.GasPriceWei)
		}
		return chain.NewEthereumClient(d.Eth, cfg, converter, d.Logger), nil
	}

	sim := chain.NewSimulated()
	for _, e := range snapshots.FetchAll(ctx) {
		sim.SetBalance(e.Address, e.AmountMinor)
	}
	d.Logger.Warn("no rpc endpoint configured, using simulated ledger")
	return sim, nil
}
