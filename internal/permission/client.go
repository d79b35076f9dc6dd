package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// ErrUnknownUser — сервис прав не знает пользователя.
var ErrUnknownUser = errors.New("пользователь не найден в сервисе прав")

var permissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dm_permission_requests_total",
	Help: "Количество обращений за правами пользователя по источнику ответа.",
}, []string{"source"})

// Client — HTTP-клиент внешнего сервиса прав с коротким кэшем ответов.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *expirable.LRU[string, model.Permissions]
	logger     *slog.Logger
}

// NewClient создаёт клиент сервиса прав.
// baseURL — базовый URL (например, http://permissions:8080).
// cacheSize/cacheTTL — размер и TTL кэша; cacheTTL <= 0 отключает кэш.
func NewClient(baseURL string, timeout time.Duration, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "permission_client")),
	}
	if cacheTTL > 0 && cacheSize > 0 {
		c.cache = expirable.NewLRU[string, model.Permissions](cacheSize, nil, cacheTTL)
	}
	return c
}

// BaseURL возвращает адрес сервиса прав (для мониторинга зависимостей).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetUserPermissions запрашивает права пользователя.
// GET /api/v1/users/{id}/permissions
func (c *Client) GetUserPermissions(ctx context.Context, userID string) (*model.Permissions, error) {
	if c.cache != nil {
		if p, ok := c.cache.Get(userID); ok {
			permissionRequestsTotal.WithLabelValues("cache").Inc()
			return &p, nil
		}
	}

	reqURL := fmt.Sprintf("%s/api/v1/users/%s/permissions", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса прав: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		permissionRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("запрос прав к %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		permissionRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	default:
		permissionRequestsTotal.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("сервис прав вернул статус %d для %s: %s", resp.StatusCode, userID, string(body))
	}

	var p model.Permissions
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		permissionRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("декодирование прав пользователя: %w", err)
	}
	permissionRequestsTotal.WithLabelValues("remote").Inc()

	if c.cache != nil {
		c.cache.Add(userID, p)
	}
	c.logger.Debug("Права пользователя получены", slog.String("user_id", userID))
	return &p, nil
}

// Invalidate удаляет права пользователя из кэша.
func (c *Client) Invalidate(userID string) {
	if c.cache != nil {
		c.cache.Remove(userID)
	}
}
