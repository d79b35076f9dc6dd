package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	status  string
	message string
}

func (c stubChecker) CheckReady() (string, string) { return c.status, c.message }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Service != "document-module" || resp.Status != statusOK {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]ReadinessChecker
		wantCode int
		want     string
	}{
		{"все ok", map[string]ReadinessChecker{
			"postgresql": stubChecker{statusOK, ""},
			"storage":    stubChecker{statusOK, ""},
		}, http.StatusOK, statusOK},
		{"кэш деградировал", map[string]ReadinessChecker{
			"postgresql": stubChecker{statusOK, ""},
			"cache":      stubChecker{statusDegraded, "redis недоступен"},
		}, http.StatusOK, statusDegraded},
		{"PostgreSQL недоступен", map[string]ReadinessChecker{
			"postgresql": stubChecker{statusFail, "timeout"},
			"cache":      stubChecker{statusDegraded, ""},
		}, http.StatusServiceUnavailable, statusFail},
		{"проверка не инициализирована", map[string]ReadinessChecker{
			"postgresql": nil,
		}, http.StatusServiceUnavailable, statusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался статус %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.want {
				t.Errorf("ожидался итог %s, получен %s", tt.want, resp.Status)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("ожидалось %d проверок, получено %d", len(tt.checks), len(resp.Checks))
			}
		})
	}
}
