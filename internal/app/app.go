package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"mev-sentinel/internal/alerting"
	"mev-sentinel/internal/chain"
	"mev-sentinel/internal/config"
	"mev-sentinel/internal/engine"
	"mev-sentinel/internal/executor"
	"mev-sentinel/internal/feed"
	"mev-sentinel/internal/model"
	"mev-sentinel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running trading session: it connects to the node,
// wires the feed, model, executor, and engine together, and blocks until
// a termination signal or the risk circuit breaker brings it down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; trade persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var resultStore storage.ResultStore
	if store != nil {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("another instance already holds the session lock")
		}
		defer unlock()
		resultStore = store
	}

	client, err := chain.Dial(ctx, a.Config.Chain, a.Logger)
	if err != nil {
		return err
	}
	defer client.Close()

	submitter, err := chain.NewSubmitter(client, a.Config.Chain, a.Config.Executor.GasLimit, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("account", submitter.From().Hex()).Msg("signing account loaded")

	table := feed.NewTable(a.Config.Venues, a.Config.Tokens)
	recipient := common.HexToAddress(a.Config.Chain.ExecutorContract)

	mdl := model.New(a.Config.Model, a.Logger)
	eval := model.NewEvaluator(mdl, a.Config.Model.MinScore)

	// The monitor feeds the engine's observed success rate back into the
	// feature vector; the engine does not exist yet, so bind it late.
	var eng *engine.Engine
	monitor := feed.NewMonitor(feed.Options{
		Strategy: a.Config.Strategy,
		Monitor:  a.Config.Monitor,
		Table:    table,
		Stream:   client,
		Resolver: client,
		Broad:    client,
		Prices:   chain.NewUniswapQuoter(client, table, a.Logger),
		Lending:  chain.NewAaveSource(client, table, a.Logger),
		SuccessRate: func() float64 {
			if eng == nil {
				return 0.5
			}
			return eng.SuccessRate()
		},
	}, a.Logger)

	exec := executor.New(
		a.Config.Executor,
		a.Config.Risk.MaxConcurrent,
		submitter,
		chain.NewUniswapSwapBuilder(table, recipient),
		chain.NewAaveLiquidationBuilder(),
		a.Logger,
	)

	eng = engine.New(a.Config, monitor, eval, exec, mdl, a.newNotifier(), resultStore, a.Logger)

	a.Logger.Info().Msg("starting trading session")
	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	eng.Stop()

	a.Logger.Info().Msg("trading session stopped")
	return nil
}

// ExportOptions hold parameters for exporting trade history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
