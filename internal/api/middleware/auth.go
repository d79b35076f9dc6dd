// auth.go — JWT middleware для аутентификации Document Module.
// Валидирует RS256 токены внешнего OIDC-провайдера через JWKS, определяет
// вызывающего (sub, признак администратора, канал доступа) и помещает
// model.Caller в контекст запроса.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyCaller — model.Caller в контексте запроса.
const ContextKeyCaller contextKey = "caller"

// contextKeyHolder — ячейка для передачи sub обратно в RequestLogger.
const contextKeyHolder contextKey = "caller_holder"

type callerHolder struct {
	userID string
}

func withCallerHolder(ctx context.Context, h *callerHolder) context.Context {
	return context.WithValue(ctx, contextKeyHolder, h)
}

// Каналы доступа для журнала.
const (
	AccessMethodAPI     = "api"
	AccessMethodService = "service"
)

// idpClaims — raw claims из JWT провайдера.
type idpClaims struct {
	jwt.RegisteredClaims
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Groups — группы пользователя.
	Groups []string `json:"groups,omitempty"`
	// Scope — scopes через пробел (для Service Account).
	Scope string `json:"scope,omitempty"`
	// ClientID — client_id (для Service Account).
	ClientID string `json:"client_id,omitempty"`
}

// realmAccess — вложенная структура realm_access.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	Issuer string
	// Группы, дающие роль администратора
	AdminGroups []string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	Leeway time.Duration
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	issuer      string
	adminGroups []string
	leeway      time.Duration
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, cfg.Issuer, cfg.AdminGroups, cfg.Leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, adminGroups []string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:        kf,
		issuer:      issuer,
		adminGroups: adminGroups,
		leeway:      leeway,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), exp и issuer,
// помещает model.Caller в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			caller := j.buildCaller(subject, rawClaims)
			if h, ok := r.Context().Value(contextKeyHolder).(*callerHolder); ok {
				h.userID = caller.UserID
			}
			ctx := WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildCaller формирует model.Caller из claims.
// Service Account (client_id + scope) получает канал service.
func (j *JWTAuth) buildCaller(subject string, raw *idpClaims) model.Caller {
	var realmRoles []string
	if raw.RealmAccess != nil {
		realmRoles = raw.RealmAccess.Roles
	}
	role := rbac.ResolveRole(raw.Groups, realmRoles, j.adminGroups)

	method := AccessMethodAPI
	if raw.ClientID != "" && raw.Scope != "" {
		method = AccessMethodService
	}

	return model.Caller{
		UserID:       subject,
		IsAdmin:      rbac.IsAdmin(role),
		AccessMethod: method,
	}
}

// --- Context helpers ---

// WithCaller помещает вызывающего в контекст.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext извлекает вызывающего из контекста запроса.
// ok == false, если middleware аутентификации не выполнялся.
func CallerFromContext(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(model.Caller)
	return caller, ok
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если вызывающий не найден.
func SubjectFromContext(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.UserID
}
