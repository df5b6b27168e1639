package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gin-gonic/gin"

	"meal-backend/internal/analyze"
	"meal-backend/internal/ingest"
	"meal-backend/internal/llm"
	"meal-backend/internal/llm/gemini"
	"meal-backend/internal/llm/openai"
	"meal-backend/internal/meals"
	"meal-backend/internal/nutrition"
	"meal-backend/internal/ocr"
	"meal-backend/internal/orchestrator"
	"meal-backend/internal/queue"
	"meal-backend/internal/services/health"
	"meal-backend/internal/shared/cache"
	"meal-backend/internal/shared/config"
	"meal-backend/internal/shared/metrics"
	"meal-backend/internal/shared/server"
	"meal-backend/internal/shared/server/middleware"
	"meal-backend/internal/shared/storage/db"
	"meal-backend/internal/shared/storage/object"
	localstore "meal-backend/internal/shared/storage/object/local"
	s3store "meal-backend/internal/shared/storage/object/s3"
	"meal-backend/internal/shared/telemetry"
)

const (
	defaultRegion      = "us-east-1"
	memoryCacheLimit   = 1000
	defaultVisionModel = "gpt-4o"
	defaultLLMModel    = "gpt-4o-mini"
)

// App holds shared dependencies.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Store        object.ObjectStore
	Cache        cache.Cache
	Queue        queue.Client
	Gate         *meals.Gate
	Orchestrator *orchestrator.Orchestrator
	Analyze      *analyze.Service
	Metrics      *metrics.Registry
	Admission    *middleware.Admission

	closers []io.Closer
}

// Build prepares shared dependencies and wires routes.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewRegistry()}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	app.Cache = app.buildCache(ctx, cfg)

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Queue, err = buildQueue(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	sources := app.buildSources(ctx, cfg, awsCfg)
	app.Orchestrator = orchestrator.New(sources, Timeouts(cfg))

	var repo meals.Repo = meals.NewMemoryRepo()
	if app.DB != nil {
		repo = &meals.PGRepo{DB: app.DB}
	}
	app.Gate = meals.NewGate(repo, app.Queue)
	app.Admission = middleware.NewAdmission(cfg.MaxConcurrentRequests)

	app.Analyze = &analyze.Service{
		Orchestrator:  app.Orchestrator,
		Fetcher:       ingest.NewFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes),
		Cache:         app.Cache,
		CacheTTL:      cfg.CacheTTL,
		Store:         app.Store,
		Gate:          app.Gate,
		Metrics:       app.Metrics,
		MaxImageBytes: cfg.MaxImageBytes,
		Budget:        cfg.AnalysisTimeout,
		UploadTimeout: cfg.UploadTimeout,
	}

	var pinger health.Pinger
	if app.DB != nil {
		pinger = app.DB
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:         cfg,
		AnalyzeHandler: analyze.NewHandler(app.Analyze),
		MealsHandler:   meals.NewHandler(app.Gate, app.Store),
		Health:         health.NewService(pinger, sources, app.Admission.InFlight),
		Metrics:        app.Metrics,
		Admission:      app.Admission,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"database":     app.DB != nil,
		"object_store": cfg.ObjectStoreType,
		"redis":        cfg.RedisURL != "",
		"queue":        app.Queue != nil,
		"vision":       sources.VisionEnabled && sources.Vision != nil,
		"ocr":          cfg.OCRProvider,
		"missing":      strings.Join(sources.Missing, ","),
	})
	return app, nil
}

// Close releases clients opened by Build.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildOrchestrator constructs only the analysis pipeline, for tools that do not serve
// HTTP. The returned close func releases adapter clients.
func BuildOrchestrator(ctx context.Context, cfg config.Config) (*orchestrator.Orchestrator, func() error, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	app := &App{}
	src := app.buildSources(ctx, cfg, awsCfg)
	return orchestrator.New(src, Timeouts(cfg)), app.Close, nil
}

// Timeouts maps configuration onto orchestrator stage budgets.
func Timeouts(cfg config.Config) orchestrator.Timeouts {
	return orchestrator.Timeouts{
		Global:       cfg.AnalysisTimeout,
		Vision:       cfg.VisionTimeout,
		Enrich:       cfg.EnrichTimeout,
		OCR:          cfg.OCRTimeout,
		NutritionDB:  cfg.NutritionDBTimeout,
		DBPreference: cfg.NutritionDBPreference,
		Estimate:     cfg.EstimateTimeout,
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Deployed environments migrate with cmd/migrate before rollout.
	opts := db.PoolOptions(db.IsLambdaRuntime(), cfg.MaxConcurrentRequests).WithEnv()
	sqlDB, err := db.OpenAndMigrate(ctx, cfg.DatabaseURL, opts, cfg.IsDevLike())
	if err != nil {
		if cfg.IsDevLike() && !errors.Is(err, db.ErrMigration) {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, s3store.Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			KMSKeyID:        cfg.SSEKMSKeyID,
		})
	default:
		return localstore.New(cfg.LocalStoreDir, cfg.LocalStoreBaseURL), nil
	}
}

// buildCache prefers Redis and falls back to the in-process cache when it is unreachable.
func (a *App) buildCache(ctx context.Context, cfg config.Config) cache.Cache {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "")
		if err == nil {
			a.closers = append(a.closers, rc)
			return rc
		}
		telemetry.Warn("cache.error", map[string]any{"op": "connect", "error": err})
	}
	return cache.NewMemory(memoryCacheLimit, cfg.CacheTTL, nil)
}

func needsAWS(cfg config.Config) bool {
	return cfg.OCRProvider == "rekognition" || strings.TrimSpace(cfg.MealEventsQueueURL) != ""
}

func loadAWS(ctx context.Context, cfg config.Config) (aws.Config, error) {
	if !needsAWS(cfg) {
		return aws.Config{}, nil
	}
	region := strings.TrimSpace(cfg.AWSRegion)
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func buildQueue(cfg config.Config, awsCfg aws.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.MealEventsQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(awsCfg, cfg.MealEventsQueueURL)
}

// buildSources constructs every adapter the configuration enables. Missing credentials
// are recorded on Sources rather than failing startup, so each request reports them.
func (a *App) buildSources(ctx context.Context, cfg config.Config, awsCfg aws.Config) orchestrator.Sources {
	src := orchestrator.Sources{VisionEnabled: cfg.EnableVision}
	missing := func(name string) { src.Missing = append(src.Missing, name) }

	if cfg.EnableVision {
		switch cfg.LLMProvider {
		case "gemini":
			v, err := gemini.NewVisionClient(ctx, cfg.GeminiAPIKey, cfg.VisionModel)
			if err != nil {
				a.sourceError("vision", err, "GEMINI_API_KEY", missing)
			} else {
				src.Vision = v
				a.closers = append(a.closers, v)
			}
		default:
			v, err := openai.NewVisionClient(cfg.OpenAIAPIKey, orDefault(cfg.VisionModel, defaultVisionModel))
			if err != nil {
				a.sourceError("vision", err, "OPENAI_API_KEY", missing)
			} else {
				src.Vision = v
			}
		}
	}

	switch cfg.OCRProvider {
	case "rekognition":
		src.OCR = ocr.NewRekognition(awsCfg)
	case "google":
		g, err := ocr.NewGoogleVision(ctx, cfg.GoogleVisionAPIKey)
		if err != nil {
			// Without a key the adapter needs application default credentials.
			telemetry.Error("bootstrap.source_failed", map[string]any{"source": "ocr", "error": err})
			missing("GOOGLE_VISION_API_KEY")
		} else {
			src.OCR = g
		}
	}
	if src.OCR == nil {
		return src
	}

	switch {
	case cfg.NutritionixAppID != "" && cfg.NutritionixAppKey != "":
		src.NutritionDB = nutrition.NewNutritionix(cfg.NutritionixAppID, cfg.NutritionixAppKey, "")
	case cfg.NutritionixAppID != "":
		missing("NUTRITIONIX_APP_KEY")
	case cfg.NutritionixAppKey != "":
		missing("NUTRITIONIX_APP_ID")
	}
	if cfg.OpenAIAPIKey != "" {
		est, err := openai.NewEstimateClient(cfg.OpenAIAPIKey, orDefault(cfg.LLMModel, defaultLLMModel))
		if err != nil {
			a.sourceError("estimator", err, "OPENAI_API_KEY", missing)
		} else {
			src.Estimator = est
		}
	}
	return src
}

// sourceError records a missing credential by name; any other failure leaves the source
// unset, which Sources.Validate reports per request.
func (a *App) sourceError(source string, err error, envVar string, missing func(string)) {
	if errors.Is(err, llm.ErrMissingAPIKey) {
		missing(envVar)
		return
	}
	telemetry.Error("bootstrap.source_failed", map[string]any{"source": source, "env": envVar, "error": err})
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
