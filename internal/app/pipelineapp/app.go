package pipelineapp

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gitsmash/mapid/internal/config"
	"github.com/gitsmash/mapid/internal/infra/httpclient"
	s3infra "github.com/gitsmash/mapid/internal/infra/s3"
	pgrepo "github.com/gitsmash/mapid/internal/repo/postgres"
	redrepo "github.com/gitsmash/mapid/internal/repo/redis"
	imagesvc "github.com/gitsmash/mapid/internal/services/images"
	locsvc "github.com/gitsmash/mapid/internal/services/location"
	mediasvc "github.com/gitsmash/mapid/internal/services/media"
	modsvc "github.com/gitsmash/mapid/internal/services/moderation"
	postsvc "github.com/gitsmash/mapid/internal/services/posts"
)

// App wires the submission pipeline. The HTTP layer lives outside this
// module and mounts the exposed services.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	postgres *pgxpool.Pool
	redis    *goredis.Client
	s3       *minio.Client

	Posts      *postsvc.Service
	Location   *locsvc.Service
	Moderation *modsvc.Service
	Processor  *imagesvc.Processor
	Storage    *mediasvc.S3Storage

	PostRepo      *pgrepo.PostRepo
	PostImageRepo *pgrepo.PostImageRepo
	CounterRepo   *redrepo.CounterRepo
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redrepo.NewClient(ctx, redrepo.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		// Counters degrade gracefully, the pipeline itself stays up.
		log.Warn("redis init failed, engagement counters disabled", zap.Error(err))
		redisClient = nil
	}

	s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3: %w", err)
	}

	storage := mediasvc.NewS3Storage(s3Client, mediasvc.S3Config{
		Bucket:    cfg.S3.Bucket,
		PublicURL: cfg.S3.PublicURL,
		Endpoint:  cfg.S3.Endpoint,
		UseSSL:    cfg.S3.UseSSL,
	})

	geocoderHTTP := httpclient.New(cfg.Geocoder.Timeout, cfg.Geocoder.UserAgent)
	locationService := locsvc.NewService(
		locsvc.NewNominatimClient(geocoderHTTP, cfg.Geocoder.BaseURL),
		locsvc.Config{
			MaxRetries:        cfg.Geocoder.MaxRetries,
			MaxRadiusKM:       cfg.Geocoder.MaxRadiusKM,
			PrivacyFuzzMeters: cfg.Geocoder.PrivacyFuzzMeters,
		},
		log.Named("location"),
	)

	var detector modsvc.LabelDetector
	if cfg.Moderation.ProviderURL != "" {
		detectorHTTP := httpclient.New(cfg.Moderation.ProviderTimeout, "")
		detector = modsvc.NewRESTDetector(detectorHTTP, cfg.Moderation.ProviderURL, cfg.Moderation.ProviderAPIKey)
	}
	moderationService := modsvc.NewService(detector, modsvc.Config{
		TextEnabled:         cfg.Moderation.TextEnabled,
		ImageEnabled:        cfg.Moderation.ImageEnabled,
		Action:              cfg.Moderation.Action,
		ConfidenceThreshold: cfg.Moderation.ConfidenceThreshold,
		AutoRejectCutoff:    cfg.Moderation.AutoRejectCutoff,
	}, log.Named("moderation"))

	processor := imagesvc.NewProcessor(imagesvc.Config{
		MaxFileBytes: cfg.Images.MaxFileBytes,
		Quality:      float32(cfg.Images.Quality),
	}, log.Named("images"))

	var (
		counterRepo *redrepo.CounterRepo
		counters    postsvc.Counters
	)
	if redisClient != nil {
		counterRepo = redrepo.NewCounterRepo(redisClient)
		counters = counterRepo
	}

	postsService := postsvc.NewService(
		pgrepo.NewPipelineStore(pool),
		locationService,
		moderationService,
		processor,
		storage,
		counters,
		mediasvc.BuildObjectKey,
		postsvc.Config{
			ImageWorkers:  cfg.Images.Workers,
			SubmitTimeout: cfg.Submit.Timeout,
			Categories:    cfg.Categories,
		},
		log.Named("posts"),
	)

	return &App{
		cfg:    cfg,
		logger: log,

		postgres: pool,
		redis:    redisClient,
		s3:       s3Client,

		Posts:      postsService,
		Location:   locationService,
		Moderation: moderationService,
		Processor:  processor,
		Storage:    storage,

		PostRepo:      pgrepo.NewPostRepo(pool),
		PostImageRepo: pgrepo.NewPostImageRepo(pool),
		CounterRepo:   counterRepo,
	}, nil
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
}
