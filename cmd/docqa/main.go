package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/docqa"
	"github.com/flarexio/docqa/chat"
	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/persistence/chromem"
	"github.com/flarexio/docqa/persistence/postgres"
	"github.com/flarexio/docqa/vector"

	embeddingOpenAI "github.com/flarexio/docqa/embedding/openai"
	llmOpenAI "github.com/flarexio/docqa/llm/openai"
	mcpE "github.com/flarexio/docqa/mcp"
	httpT "github.com/flarexio/docqa/transport/http"
	natsT "github.com/flarexio/docqa/transport/nats"
)

func main() {
	cmd := &cli.Command{
		Name:  "docqa",
		Usage: "Question answering over a document corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Path to the docqa working directory",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Load, chunk, embed and store documents",
				ArgsUsage: "[paths...]",
				Action:    runIngest,
			},
			{
				Name:  "chat",
				Usage: "Ask questions interactively",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ingest",
						Usage: "Ingest the configured corpus before chatting",
					},
				},
				Action: runChat,
			},
			{
				Name:  "serve",
				Usage: "Expose docqa over HTTP, NATS and MCP",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "nats",
						Usage: "Enable NATS transport",
						Value: false,
					},
					&cli.StringFlag{
						Name:    "nats-url",
						Usage:   "NATS server URL",
						Value:   "wss://nats.flarex.io",
						Sources: cli.EnvVars("NATS_URL"),
					},
					&cli.BoolFlag{
						Name:  "http",
						Usage: "Enable HTTP transport",
						Value: false,
					},
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":8080",
					},
				},
				Action: runServe,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

type app struct {
	path string
	cfg  docqa.Config
	svc  docqa.Service
	log  *zap.Logger
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	path := cmd.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		path = filepath.Join(homeDir, ".flarex", "docqa")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)

	for _, env := range []string{".env", filepath.Join(path, ".env")} {
		if err := godotenv.Load(env); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	embedder, err := embeddingOpenAI.NewClient(embeddingOpenAI.Config{
		APIKey:            os.Getenv(cfg.Embedding.APIKeyEnv),
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		Timeout:           cfg.Embedding.Timeout.Duration(),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})
	if err != nil {
		return nil, err
	}

	generator, err := llmOpenAI.NewClient(llmOpenAI.Config{
		APIKey:  os.Getenv(cfg.Generation.APIKeyEnv),
		BaseURL: cfg.Generation.BaseURL,
		Timeout: cfg.Generation.Timeout.Duration(),
	})
	if err != nil {
		return nil, err
	}

	var store vector.Store
	switch cfg.Vector.Backend {
	case "postgres":
		store, err = postgres.NewPostgresStore(ctx, cfg.Vector)

	default:
		if cfg.Vector.Persistent && cfg.Vector.Path == "" {
			cfg.Vector.Path = filepath.Join(path, "vectors")
		}

		store, err = chromem.NewChromemStore(cfg.Vector)
	}

	if err != nil {
		return nil, err
	}

	svc, err := docqa.NewService(cfg, embedder, store, generator)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc = docqa.LoggingMiddleware(log)(svc)

	return &app{
		path: path,
		cfg:  cfg,
		svc:  svc,
		log:  log,
	}, nil
}

// loadConfig decodes config.yaml over the defaults. A missing file keeps
// the defaults.
func loadConfig(path string) (docqa.Config, error) {
	cfg := docqa.DefaultConfig()

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("config.yaml not found, using defaults", zap.String("path", path))
			return cfg, nil
		}

		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (a *app) close() {
	a.svc.Close()
	a.log.Sync()
}

func (a *app) ingest(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		paths = a.cfg.Corpus.Paths
	}

	if len(paths) == 0 {
		return errors.New("no corpus paths given")
	}

	docs, err := loader.NewDirectory(a.cfg.Corpus.Required).LoadAll(ctx, paths)
	if err != nil {
		return err
	}

	report, err := a.svc.Ingest(ctx, docs)
	if err != nil {
		return err
	}

	fmt.Printf("documents: %d, chunks: %d, stored: %d, embedding failures: %d, ingestion errors: %d\n",
		report.Documents, report.Chunks, report.Stored, report.EmbeddingFailures, len(report.Errors))

	return nil
}

func runIngest(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	return a.ingest(ctx, cmd.Args().Slice())
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.Bool("ingest") {
		if err := a.ingest(ctx, nil); err != nil {
			return err
		}
	}

	session := &chat.Session{
		In:  os.Stdin,
		Out: os.Stdout,
	}

	err = session.Run(ctx, a.svc)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	log := a.log
	endpoints := docqa.MakeEndpoints(a.svc)

	if cmd.Bool("nats") {
		idBytes, err := os.ReadFile(filepath.Join(a.path, "id"))
		if err != nil {
			return err
		}

		edgeID := strings.TrimSpace(string(idBytes))

		nc, err := nats.Connect(cmd.String("nats-url"),
			nats.Name("docqa Server - "+edgeID),
			nats.UserCredentials(filepath.Join(a.path, "user.creds")),
		)

		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "docqa",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := "edges." + edgeID + ".docqa"

		root := srv.AddGroup(topic)
		natsT.AddEndpoints(root, endpoints)

		log.Info("nats transport started", zap.String("topic", topic))
	}

	if cmd.Bool("http") {
		r := gin.Default()
		httpT.AddRouters(r, endpoints)

		endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
		endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(a.svc)
		endpoints[mcp.MethodPing] = mcpE.PingEndpoint(a.svc)
		endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(a.svc)
		endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(a.svc)
		httpT.AddStreamableRouters(r, endpoints)

		httpAddr := cmd.String("http-addr")
		go r.Run(httpAddr)

		log.Info("http transport started", zap.String("addr", httpAddr))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}
