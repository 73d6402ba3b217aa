package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"

	contractx "github.com/tanpawarit/support-agent/agent/contract"
	"github.com/tanpawarit/support-agent/agent/llm"
	"github.com/tanpawarit/support-agent/agent/orchestrator"
	"github.com/tanpawarit/support-agent/agent/prompt"
	storex "github.com/tanpawarit/support-agent/agent/store"
	"github.com/tanpawarit/support-agent/agent/tool"
	"github.com/tanpawarit/support-agent/api"
	configx "github.com/tanpawarit/support-agent/pkg/config"
	dbx "github.com/tanpawarit/support-agent/pkg/database"
	logx "github.com/tanpawarit/support-agent/pkg/logger"
	openrouterx "github.com/tanpawarit/support-agent/pkg/openrouter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "support-agent",
		Usage: "customer support assistant backed by a tool-calling LLM",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "path to .env file"},
		},
		Before: func(c *cli.Context) error {
			configx.SetEnvFile(c.String("env"))
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*logCfg)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "seed", Usage: "load the sample fixture before serving"},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create the customers and orders tables",
				Action: migrate,
			},
			{
				Name:   "seed",
				Usage:  "create the schema and load the sample fixture",
				Action: seed,
			},
			{
				Name:      "chat",
				Usage:     "send one operator message and print the result as JSON",
				ArgsUsage: "<message>",
				Action:    chat,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("support-agent failed")
	}
}

func serve(c *cli.Context) error {
	ctx := c.Context

	db, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("seed") {
		if err := loadFixture(ctx, db); err != nil {
			return err
		}
	}

	svc, probe, err := buildChatService(ctx, store)
	if err != nil {
		return err
	}

	httpCfg := configx.MustNew[api.Config]("HTTP")
	redisCfg := configx.MustNew[api.RedisConfig]("REDIS")

	deps := api.Deps{Store: store, Chat: svc, Probe: probe}
	if redisCfg.Enabled() {
		rdb := redisCfg.NewClient()
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", redisCfg.Addr).Msg("redis unreachable; rate limiter will allow requests until it recovers")
		}
		deps.ChatLimiter = api.RateLimit(rdb, httpCfg.ChatRateLimit, httpCfg.ChatRateWindow)
	}

	return api.Serve(ctx, *httpCfg, api.NewRouter(*httpCfg, deps))
}

func migrate(c *cli.Context) error {
	db, _, err := openStore(c.Context)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("schema is up to date")
	return nil
}

func seed(c *cli.Context) error {
	db, _, err := openStore(c.Context)
	if err != nil {
		return err
	}
	defer db.Close()
	return loadFixture(c.Context, db)
}

func chat(c *cli.Context) error {
	message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if message == "" {
		return cli.Exit("usage: support-agent chat <message>", 2)
	}
	ctx := c.Context

	db, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, _, err := buildChatService(ctx, store)
	if err != nil {
		return err
	}

	res, chatErr := svc.HandleChatTurn(ctx, message)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if chatErr != nil && !errors.Is(chatErr, contractx.ErrTurnLimitExceeded) {
		return chatErr
	}
	return nil
}

func openStore(ctx context.Context) (*bun.DB, *storex.Store, error) {
	dbCfg := configx.MustNew[dbx.Config]("DB")
	db, err := dbx.Open(ctx, *dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := storex.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store, err := storex.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

func loadFixture(ctx context.Context, db bun.IDB) error {
	fixture, err := storex.DefaultFixture()
	if err != nil {
		return err
	}
	customers, orders, err := storex.Seed(ctx, db, fixture)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Info().Int("customers", customers).Int("orders", orders).Msg("fixture loaded")
	return nil
}

// buildChatService wires the dispatcher and orchestrator. A missing provider
// credential yields a disabled service so the CRUD API still starts.
func buildChatService(ctx context.Context, store *storex.Store) (contractx.ChatService, func(context.Context) error, error) {
	llmCfg := configx.MustNew[llm.Config]("LLM")
	orCfg := llmCfg.OpenRouter()
	client := openrouterx.NewClient(orCfg)
	probe := func(ctx context.Context) error { return openrouterx.Probe(ctx, client) }

	if err := llmCfg.Validate(); err != nil {
		if errors.Is(err, contractx.ErrMissingCredential) {
			log.Warn().Err(err).Msg("chat disabled")
			return orchestrator.Disabled{Err: err}, probe, nil
		}
		return nil, nil, err
	}

	prompts := prompt.LoadPromptSet()
	if err := prompts.Validate(); err != nil {
		return nil, nil, err
	}

	dispatcher, err := tool.NewDispatcher(store)
	if err != nil {
		return nil, nil, err
	}

	chatModel, err := orCfg.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	svc, err := orchestrator.New(ctx, chatModel, dispatcher, prompts.Support, orchestrator.Config{
		MaxTurns:        llmCfg.MaxTurns,
		RequestTimeout:  llmCfg.Timeout,
		ToolConcurrency: llmCfg.ToolConcurrency,
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("model", orCfg.Model).Int("max_turns", llmCfg.MaxTurns).Msg("chat service ready")
	return svc, probe, nil
}
