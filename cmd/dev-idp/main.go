// Dev IdP — минималистичный сервис для локального запуска Document Module.
// Заменяет внешние зависимости: OIDC-провайдер (JWKS + выдача RS256
// токенов) и сервис прав пользователей. RSA ключ генерируется при старте.
//
//	GET  /jwks                             — JWKS с публичным ключом
//	POST /token                            — подписанный JWT для sub/groups
//	GET  /api/v1/users/{id}/permissions    — права пользователя
//	GET  /health                           — проверка готовности
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

const keyID = "dev-key-1"

// --- Конфигурация ---

// config хранит конфигурацию сервиса из env-переменных.
type config struct {
	Port    string // DEV_IDP_PORT — порт HTTP-сервера (default: 8090)
	Issuer  string // DEV_IDP_ISSUER — iss выдаваемых токенов
	KeySize int    // DEV_IDP_KEY_SIZE — размер RSA ключа (default: 2048)
	// DEV_IDP_READONLY_USERS — пользователи без права загрузки и удаления
	ReadonlyUsers map[string]bool
	// DEV_IDP_QUOTA_GB — квота хранилища каждого пользователя (0 — без квоты)
	QuotaGB float64
}

// loadConfig загружает конфигурацию из переменных окружения.
func loadConfig() config {
	cfg := config{
		Port:          envOrDefault("DEV_IDP_PORT", "8090"),
		Issuer:        envOrDefault("DEV_IDP_ISSUER", "dev-idp"),
		KeySize:       2048,
		ReadonlyUsers: make(map[string]bool),
	}
	if v := os.Getenv("DEV_IDP_KEY_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size >= 1024 {
			cfg.KeySize = size
		}
	}
	for _, u := range strings.Split(os.Getenv("DEV_IDP_READONLY_USERS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.ReadonlyUsers[u] = true
		}
	}
	if v := os.Getenv("DEV_IDP_QUOTA_GB"); v != "" {
		if q, err := strconv.ParseFloat(v, 64); err == nil && q > 0 {
			cfg.QuotaGB = q
		}
	}
	return cfg
}

// envOrDefault возвращает значение env-переменной или default.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// --- JWKS ---

// jwksKey представляет один ключ в JWKS (RFC 7517).
type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

func buildJWKS(pub *rsa.PublicKey) jwksResponse {
	return jwksResponse{Keys: []jwksKey{{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// --- Token ---

// tokenRequest — тело запроса POST /token.
type tokenRequest struct {
	Sub        string   `json:"sub"`
	Groups     []string `json:"groups"`
	Roles      []string `json:"roles"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// devClaims — claims в формате OIDC-провайдера (groups, realm_access.roles).
type devClaims struct {
	jwt.RegisteredClaims
	Groups      []string `json:"groups,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// --- Handlers ---

type server struct {
	cfg          config
	privateKey   *rsa.PrivateKey
	jwksResponse []byte
	logger       *slog.Logger
}

func newServer(cfg config, key *rsa.PrivateKey, logger *slog.Logger) (*server, error) {
	jwks, err := json.Marshal(buildJWKS(&key.PublicKey))
	if err != nil {
		return nil, err
	}
	return &server{cfg: cfg, privateKey: key, jwksResponse: jwks, logger: logger}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", s.handleJWKS)
	r.Post("/token", s.handleToken)
	r.Get("/api/v1/users/{id}/permissions", s.handlePermissions)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (s *server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.jwksResponse)
}

// handleToken выдаёт подписанный JWT.
func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Невалидный JSON: "+err.Error())
		return
	}
	if req.Sub == "" {
		writeError(w, http.StatusBadRequest, "Поле 'sub' обязательно")
		return
	}
	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}

	now := time.Now()
	claims := devClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Sub,
			Issuer:    s.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Groups: req.Groups,
	}
	claims.RealmAccess.Roles = req.Roles

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		s.logger.Error("Ошибка подписи JWT", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}

	s.logger.Info("Токен выдан",
		slog.String("sub", req.Sub),
		slog.Int("groups_count", len(req.Groups)),
		slog.Int("ttl_seconds", ttl),
	)
	writeJSON(w, http.StatusOK, tokenResponse{Token: signed})
}

// handlePermissions отвечает правами пользователя: всё разрешено, кроме
// загрузки и удаления для readonly-пользователей.
func (s *server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	readonly := s.cfg.ReadonlyUsers[userID]

	p := model.Permissions{
		CanAccess:   true,
		CanUpload:   !readonly,
		CanDownload: true,
		CanDelete:   !readonly,
		CanApprove:  true,
		CanShare:    true,
	}
	if s.cfg.QuotaGB > 0 {
		q := s.cfg.QuotaGB
		p.StorageQuotaGB = &q
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

// --- Main ---

func main() {
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("Генерация RSA ключевой пары", slog.Int("key_size", cfg.KeySize))
	key, err := rsa.GenerateKey(rand.Reader, cfg.KeySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := newServer(cfg, key, logger)
	if err != nil {
		logger.Error("Ошибка сериализации JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}

	addr := ":" + cfg.Port
	logger.Info("Запуск Dev IdP", slog.String("addr", addr), slog.String("issuer", cfg.Issuer))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
