package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/truthguard-chat/internal/store"
)

type pingRepo struct {
	store.Repository
	err error
}

func (p *pingRepo) Ping(context.Context) error { return p.err }

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		wantDB   string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantDB: "ok"},
		{name: "degraded", pingErr: errors.New("closed"), wantCode: http.StatusServiceUnavailable, wantDB: "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(&pingRepo{err: tt.pingErr}, fixedCounter(3), testConfig())
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body struct {
				Status   string            `json:"status"`
				Checks   map[string]string `json:"checks"`
				Sessions int               `json:"sessions"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Checks["database"] != tt.wantDB {
				t.Errorf("expected database=%s, got %v", tt.wantDB, body.Checks)
			}
			if body.Sessions != 3 {
				t.Errorf("expected 3 sessions, got %d", body.Sessions)
			}
		})
	}
}
