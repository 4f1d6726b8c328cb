// Пакет tdeiclient — HTTP-клиент внешних сервисов платформы TDEI.
// Проверяет существование сервиса в реестре и права пользователя
// в проекте. Для запросов к реестру при необходимости получает
// секретный токен (заголовок x-secret) и кэширует его.
package tdeiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrServiceNotFound — реестр не вернул ровно один активный сервис.
var ErrServiceNotFound = errors.New("сервис не найден")

// AllowedRoles — роли, дающие право создавать GTFS-Flex записи.
var AllowedRoles = []string{"tdei-admin", "poc", "flex_data_generator"}

// secretTTL — время жизни закэшированного x-secret токена.
const secretTTL = 5 * time.Minute

// Service — запись реестра сервисов.
type Service struct {
	ServiceID      string `json:"tdei_service_id"`
	ProjectGroupID string `json:"tdei_project_group_id"`
	Name           string `json:"name"`
	// IsActive отсутствует у старых записей — такие считаются активными.
	IsActive *bool `json:"is_active,omitempty"`
}

// Active сообщает, активен ли сервис.
func (s Service) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// Options — параметры клиента.
type Options struct {
	RegistryURL   string
	PermissionURL string
	// SecretURL — endpoint выдачи x-secret. Пустая строка — заголовок не отправляется.
	SecretURL  string
	CACertPath string
	Timeout    time.Duration
}

// secretInfo — закэшированный x-secret токен.
type secretInfo struct {
	token     string
	expiresAt time.Time
}

// Client — HTTP-клиент реестра сервисов и авторизации.
type Client struct {
	httpClient    *http.Client
	registryURL   string
	permissionURL string
	secretURL     string
	logger        *slog.Logger

	// Кэш x-secret (thread-safe)
	mu     sync.RWMutex
	secret *secretInfo
}

// New создаёт клиент.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		registryURL:   opts.RegistryURL,
		permissionURL: opts.PermissionURL,
		secretURL:     strings.TrimSpace(opts.SecretURL),
		logger:        logger.With(slog.String("component", "tdei_client")),
	}, nil
}

// RegistryURL возвращает адрес реестра сервисов (для dephealth).
func (c *Client) RegistryURL() string {
	return c.registryURL
}

// LookupService ищет активный сервис projectGroupID/serviceID в реестре.
// Ноль или несколько совпадений, а также статус ответа не 2xx дают ErrServiceNotFound.
func (c *Client) LookupService(ctx context.Context, projectGroupID, serviceID string) (*Service, error) {
	reqURL, err := withQuery(c.registryURL, url.Values{
		"tdei_service_id":       {serviceID},
		"tdei_project_group_id": {projectGroupID},
		"page_no":               {"1"},
		"page_size":             {"2"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к реестру: %w", err)
	}

	if c.secretURL != "" {
		secret, err := c.GetSecret(ctx)
		if err != nil {
			return nil, fmt.Errorf("получение x-secret: %w", err)
		}
		req.Header.Set("x-secret", secret)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос к реестру сервисов: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: реестр вернул статус %d: %s", ErrServiceNotFound, resp.StatusCode, string(body))
	}

	var services []Service
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("декодирование ответа реестра: %w", err)
	}

	var found []Service
	for _, s := range services {
		if s.ServiceID == serviceID && s.ProjectGroupID == projectGroupID && s.Active() {
			found = append(found, s)
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: %s в группе %s (совпадений: %d)",
			ErrServiceNotFound, serviceID, projectGroupID, len(found))
	}

	return &found[0], nil
}

// HasPermission проверяет, есть ли у пользователя одна из AllowedRoles
// в группе проектов.
func (c *Client) HasPermission(ctx context.Context, userID, projectGroupID string) (bool, error) {
	query := url.Values{
		"userId":         {userID},
		"projectGroupId": {projectGroupID},
		"affirmative":    {"false"},
	}
	for _, role := range AllowedRoles {
		query.Add("roles", role)
	}
	reqURL, err := withQuery(c.permissionURL, query)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("создание запроса проверки прав: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return false, fmt.Errorf("запрос проверки прав: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("сервис авторизации вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var allowed bool
	if err := json.NewDecoder(resp.Body).Decode(&allowed); err != nil {
		return false, fmt.Errorf("декодирование ответа авторизации: %w", err)
	}

	c.logger.Debug("Проверка прав",
		slog.String("user_id", userID),
		slog.String("project_group_id", projectGroupID),
		slog.Bool("allowed", allowed),
	)
	return allowed, nil
}

// GetSecret возвращает x-secret токен. Использует кэш: если токен
// ещё валиден, возвращает закэшированный.
func (c *Client) GetSecret(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.secret != nil && time.Now().Before(c.secret.expiresAt) {
		token := c.secret.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.secret != nil && time.Now().Before(c.secret.expiresAt) {
		return c.secret.token, nil
	}

	return c.requestSecret(ctx)
}

// requestSecret запрашивает новый x-secret. Вызывается под write lock.
func (c *Client) requestSecret(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.secretURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("создание запроса x-secret: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос x-secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("endpoint x-secret вернул статус %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("чтение x-secret: %w", err)
	}
	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		return "", fmt.Errorf("пустой x-secret в ответе")
	}

	c.secret = &secretInfo{
		token:     token,
		expiresAt: time.Now().Add(secretTTL),
	}
	c.logger.Debug("x-secret получен")

	return token, nil
}

// withQuery добавляет параметры к базовому URL, сохраняя существующие.
func withQuery(base string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("некорректный URL %q: %w", base, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
