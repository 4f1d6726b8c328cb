// Пакет config — загрузка и валидация конфигурации flex-datasvc
// из переменных окружения (префикс FX_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend'ы blob-хранилища.
const (
	StorageBackendS3 = "s3"
	StorageBackendFS = "fs"
)

// Config содержит все параметры конфигурации flex-datasvc.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL сервиса для download_url (пустая строка — относительные ссылки)
	PublicURL string
	// Максимальный размер multipart-запроса загрузки в байтах
	MaxUploadSize int64

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимальный размер пула подключений
	DBMaxConns int

	// --- Event bus (Redis Streams) ---

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Топик анонсов загрузки
	UploadTopic string
	// Топик результатов внешней валидации (входящий)
	ValidationTopic string
	// Подписка (consumer group) на топик валидации
	ValidationSubscription string
	// Топик результатов сохранения записей (исходящий)
	DataServiceTopic string
	// Окно блокирующего чтения очереди
	BusBlockTimeout time.Duration
	// Простой неподтверждённого сообщения, после которого оно забирается у другого потребителя
	BusClaimIdle time.Duration

	// --- Blob storage ---

	// Backend хранилища: s3 или fs
	StorageBackend string
	// Имя контейнера (bucket) для файлов
	StorageContainer string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	S3UseSSL         bool
	S3Region         string
	// Корневая директория для fs backend
	FSDataDir string

	// --- Внешние сервисы TDEI ---

	// Endpoint поиска сервисов в реестре
	ServiceRegistryURL string
	// Endpoint проверки прав пользователя
	AuthPermissionURL string
	// Endpoint выдачи секретного токена (опционально)
	AuthSecretURL string
	// Таймаут исходящих HTTP-запросов
	ClientTimeout time.Duration
	// Путь к CA-сертификату для исходящих TLS-подключений
	CACertPath string

	// --- JWT ---

	JWTJWKSURL          string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration

	// --- Кэш метаданных записей ---

	CacheSize int
	CacheTTL  time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FX_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FX_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FX_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FX_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FX_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FX_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FX_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// FX_PUBLIC_URL — внешний URL, например https://api.tdei.us
	cfg.PublicURL = strings.TrimRight(getEnvDefault("FX_PUBLIC_URL", ""), "/")
	if cfg.PublicURL != "" {
		if _, err := url.ParseRequestURI(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("FX_PUBLIC_URL: некорректный URL %q", cfg.PublicURL)
		}
	}

	maxUpload, err := getEnvInt("FX_MAX_UPLOAD_SIZE", 1<<30)
	if err != nil {
		return nil, fmt.Errorf("FX_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("FX_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("FX_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FX_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FX_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("FX_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FX_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FX_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FX_DB_NAME", "flex")
	if cfg.DBUser, err = getEnvRequired("FX_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("FX_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FX_DB_SSL_MODE", "disable")
	cfg.DBMaxConns, err = getEnvInt("FX_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("FX_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("FX_DB_MAX_CONNS: значение должно быть >= 1")
	}

	// --- Event bus ---

	if cfg.RedisAddr, err = getEnvRequired("FX_REDIS_ADDR"); err != nil {
		return nil, err
	}
	cfg.RedisPassword = getEnvDefault("FX_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("FX_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FX_REDIS_DB: %w", err)
	}
	cfg.UploadTopic = getEnvDefault("FX_UPLOAD_TOPIC", "gtfs-flex-upload")
	cfg.ValidationTopic = getEnvDefault("FX_VALIDATION_TOPIC", "gtfs-flex-validation")
	cfg.ValidationSubscription = getEnvDefault("FX_VALIDATION_SUBSCRIPTION", "flex-datasvc")
	cfg.DataServiceTopic = getEnvDefault("FX_DATASVC_TOPIC", "gtfs-flex-data")
	cfg.BusBlockTimeout, err = getEnvDurationPositive("FX_BUS_BLOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_BUS_BLOCK_TIMEOUT: %w", err)
	}
	cfg.BusClaimIdle, err = getEnvDurationPositive("FX_BUS_CLAIM_IDLE", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FX_BUS_CLAIM_IDLE: %w", err)
	}

	// --- Blob storage ---

	cfg.StorageBackend = strings.ToLower(getEnvDefault("FX_STORAGE_BACKEND", StorageBackendS3))
	cfg.StorageContainer = getEnvDefault("FX_STORAGE_CONTAINER", "gtfs-flex")
	switch cfg.StorageBackend {
	case StorageBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("FX_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("FX_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("FX_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
		cfg.S3UseSSL, err = getEnvBool("FX_S3_USE_SSL", true)
		if err != nil {
			return nil, fmt.Errorf("FX_S3_USE_SSL: %w", err)
		}
		cfg.S3Region = getEnvDefault("FX_S3_REGION", "")
	case StorageBackendFS:
		cfg.FSDataDir = getEnvDefault("FX_FS_DATA_DIR", "/data")
	default:
		return nil, fmt.Errorf("FX_STORAGE_BACKEND: недопустимое значение %q, допустимые: s3, fs", cfg.StorageBackend)
	}

	// --- Внешние сервисы TDEI ---

	if cfg.ServiceRegistryURL, err = getEnvURL("FX_SERVICE_REGISTRY_URL", true); err != nil {
		return nil, err
	}
	if cfg.AuthPermissionURL, err = getEnvURL("FX_AUTH_PERMISSION_URL", true); err != nil {
		return nil, err
	}
	if cfg.AuthSecretURL, err = getEnvURL("FX_AUTH_SECRET_URL", false); err != nil {
		return nil, err
	}
	cfg.ClientTimeout, err = getEnvDurationPositive("FX_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_CLIENT_TIMEOUT: %w", err)
	}
	cfg.CACertPath = getEnvDefault("FX_CA_CERT_PATH", "")

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvURL("FX_JWT_JWKS_URL", true); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("FX_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("FX_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("FX_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("FX_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FX_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("FX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("FX_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("FX_CACHE_SIZE: значение должно быть >= 1")
	}
	cfg.CacheTTL, err = getEnvDurationPositive("FX_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FX_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FX_DEPHEALTH_GROUP", "tdei")
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("FX_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("FX_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FX_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL в формате postgres://.
// Используется topologymetrics для лейблов host/port.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvURL возвращает URL из переменной окружения и проверяет его формат.
// Для необязательной переменной пустое значение допустимо.
func getEnvURL(key string, required bool) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		if required {
			return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
		}
		return "", nil
	}
	u, err := url.Parse(val)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: некорректный URL %q", key, val)
	}
	return val, nil
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но дополнительно требует d > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
