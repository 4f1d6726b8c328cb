// main.go — точка входа flex-datasvc.
// Инициализирует подключения (PostgreSQL, Redis, blob-хранилище, сервисы TDEI),
// запускает потребителя результатов валидации и HTTP-сервер.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/handlers"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/middleware"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/blob"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/config"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/database"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/eventbus"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/repository"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/server"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/service"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/tdeiclient"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("flex-datasvc запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("FX_DEPHEALTH_GROUP") == "" {
		logger.Warn("FX_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Blob-хранилище
	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Event bus (Redis Streams)
	redisClient := eventbus.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	bus := eventbus.NewRedisBus(redisClient, consumerName(), cfg.BusBlockTimeout, cfg.BusClaimIdle, logger)
	if err := bus.EnsureSubscription(ctx, cfg.ValidationTopic, cfg.ValidationSubscription); err != nil {
		logger.Error("Ошибка создания подписки",
			slog.String("topic", cfg.ValidationTopic),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 7. Клиенты сервисов TDEI (реестр, разрешения)
	tdei, err := tdeiclient.New(tdeiclient.Options{
		RegistryURL:   cfg.ServiceRegistryURL,
		PermissionURL: cfg.AuthPermissionURL,
		SecretURL:     cfg.AuthSecretURL,
		CACertPath:    cfg.CACertPath,
		Timeout:       cfg.ClientTimeout,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента TDEI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Сервисы
	validator := validation.New()
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	flexSvc := service.NewFlexService(
		repository.NewFlexRepository(pool),
		tdei, tdei,
		blobs,
		cache,
		validator,
		cfg.PublicURL,
		logger,
	)
	uploadSvc := service.NewUploadService(blobs, bus, validator, cfg.UploadTopic, logger)
	relay := service.NewRelay(flexSvc, tdei, bus, cfg.DataServiceTopic, logger)

	// 9. Потребитель результатов валидации
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bus.Subscribe(ctx, cfg.ValidationTopic, cfg.ValidationSubscription, relay.Handle); err != nil {
			logger.Error("Потребитель очереди остановлен с ошибкой", slog.String("error", err.Error()))
			cancel()
		}
	}()
	logger.Info("Потребитель результатов валидации запущен",
		slog.String("topic", cfg.ValidationTopic),
		slog.String("subscription", cfg.ValidationSubscription),
	)

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + реестр сервисов)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "flex-datasvc",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		RegistryURL:   tdei.RegistryURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Обработчики API
	versions, err := handlers.LoadVersions()
	if err != nil {
		logger.Error("Ошибка загрузки дескриптора версий", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), bus)
	apiHandler := handlers.NewAPIHandler(healthHandler, flexSvc, uploadSvc, versions, cfg.MaxUploadSize, logger)

	// 13. HTTP-сервер: metrics → logging → JWT (кроме публичных путей)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), server.PublicPrefixes...),
	)
	runErr := srv.Run(ctx)

	// 14. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	cancel()
	wg.Wait()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("flex-datasvc остановлен")
}

// openBlobStore создаёт backend хранилища по конфигурации.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		s3, err := blob.NewS3Store(blob.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.StorageContainer,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx, cfg.S3Region); err != nil {
			return nil, err
		}
		return s3, nil
	case config.StorageBackendFS:
		fs, err := blob.NewFSStore(cfg.FSDataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Файловое хранилище", slog.String("data_dir", cfg.FSDataDir))
		return fs, nil
	default:
		return nil, errors.New("неизвестный backend хранилища: " + cfg.StorageBackend)
	}
}

// consumerName — имя потребителя в consumer group: hostname пода.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "flex-datasvc"
	}
	return host
}
