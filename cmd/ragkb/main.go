package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/handler"
	"github.com/xxxsen/ragkb/internal/job"
	"github.com/xxxsen/ragkb/internal/middleware"
	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/schedule"
	"github.com/xxxsen/ragkb/internal/service"
)

func main() {
	var configPath string

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "ragkb",
		Short: "retrieval service for a document knowledge base",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newEmbedCmd(&configPath),
		newRegenerateCmd(&configPath),
		newSearchCmd(&configPath),
		newProviderCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(context.Background()).Info("starting server", zap.String("addr", addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.queue.Start(ctx)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewStaleSweepJob(a.docs, a.queue, cfg.Jobs.SweepBatch), cfg.Jobs.SweepCron,
		schedule.WithTimeout(time.Minute)); err != nil {
		return fmt.Errorf("schedule stale sweep: %w", err)
	}
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cache, cfg.Embedding.CacheRetainDays), cfg.Jobs.CacheCleanCron,
		schedule.WithTimeout(10*time.Minute)); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Search:      handler.NewSearchHandler(a.search),
		Documents:   handler.NewDocumentHandler(a.embedding, a.vector),
		Providers:   handler.NewProviderHandler(a.admin),
		SearchRPS:   cfg.Search.RequestsPerSecond,
		SearchBurst: cfg.Search.Burst,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func newEmbedCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "embed <document-id>...",
		Short: "embed documents with the enabled provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			var failed int
			for _, id := range args {
				res := a.embedding.EmbedDocumentByID(cmd.Context(), id, force)
				if !res.Success {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, res.Err)
					continue
				}
				if err := printJSON(cmd, res); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-embed even when chunks are current")
	return cmd
}

func newRegenerateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <provider-id>",
		Short: "activate a provider and re-embed every live document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.queue.Start(cmd.Context())
			res, err := a.admin.RegenerateAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logutil.GetLogger(cmd.Context()).Info("regeneration queued, waiting for workers",
				zap.String("provider_id", res.Provider.ID),
				zap.Int("documents", res.Enqueued),
				zap.Int64("detached_chunks", res.Detached),
			)
			a.queue.Close()
			return printJSON(cmd, res)
		},
	}
}

func newSearchCmd(configPath *string) *cobra.Command {
	var (
		req        service.SearchRequest
		similarTo  string
		similarMax int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "run a hybrid search or a similar-documents lookup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			var res *model.SearchResult
			if similarTo != "" {
				res = a.vector.Similar(cmd.Context(), nil, similarTo, similarMax)
			} else {
				if len(args) == 1 {
					req.Query = args[0]
				}
				res = a.search.Search(cmd.Context(), req)
			}
			if res.Cause != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "search mode %s: %v\n", res.Mode, res.Cause)
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&req.Scope.CollectionID, "collection", "", "restrict to a collection id")
	cmd.Flags().StringVar(&req.Scope.Kind, "kind", "", "restrict to a document kind")
	cmd.Flags().StringVar(&req.Sort, "sort", model.SortRelevance, "relevance, newest, oldest, votes or activity")
	cmd.Flags().IntVar(&req.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&req.PerPage, "per-page", 0, "results per page")
	cmd.Flags().StringVar(&similarTo, "similar-to", "", "document id to find neighbours of")
	cmd.Flags().IntVar(&similarMax, "limit", 0, "similar-documents limit")
	return cmd
}

func newProviderCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "manage embedding providers",
	}

	var in service.ProviderCreateInput
	add := &cobra.Command{
		Use:   "add",
		Short: "register a provider (disabled until activated)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.admin.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "display name")
	add.Flags().StringVar(&in.Type, "type", "", "openai, azure, cohere, ollama, huggingface, bedrock or gemini")
	add.Flags().StringVar(&in.Model, "model", "", "embedding model")
	add.Flags().IntVar(&in.Dimensions, "dimensions", 0, "vector dimensions")
	add.Flags().Float64Var(&in.SimilarityThreshold, "threshold", 0, "minimum similarity in (0, 1], 0 keeps the default")
	add.Flags().IntVar(&in.ChunkSize, "chunk-size", 0, "chunk size in tokens")
	add.Flags().IntVar(&in.ChunkOverlap, "chunk-overlap", 0, "chunk overlap in tokens")
	add.Flags().StringVar(&in.APIKey, "api-key", "", "api key")
	add.Flags().StringVar(&in.APISecret, "api-secret", "", "api secret")
	add.Flags().StringVar(&in.Endpoint, "endpoint", "", "custom endpoint")
	add.Flags().StringVar(&in.Region, "region", "", "cloud region")
	add.Flags().StringVar(&in.APIVersion, "api-version", "", "api version")
	add.Flags().StringVar(&in.Deployment, "deployment", "", "azure deployment")
	add.Flags().Float64Var(&in.RequestsPerSecond, "rps", 0, "client-side request rate")

	var regenerate bool
	activate := &cobra.Command{
		Use:   "activate <provider-id>",
		Short: "make a provider the enabled one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if regenerate {
				a.queue.Start(cmd.Context())
			}
			res, err := a.admin.Activate(cmd.Context(), args[0], regenerate)
			if err != nil {
				return err
			}
			a.queue.Close()
			return printJSON(cmd, res)
		},
	}
	activate.Flags().BoolVar(&regenerate, "regenerate", false, "re-embed every live document")

	list := &cobra.Command{
		Use:   "list",
		Short: "list providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			items, err := a.admin.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, items)
		},
	}

	cmd.AddCommand(add, activate, list)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
