package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/auth"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/database"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/storage"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testAdminEmail    = "setter@example.com"
	testAdminCacheTTL = 20 * time.Millisecond
)

type testEnvironment struct {
	handler    http.Handler
	db         *gorm.DB
	gym        *gym.Service
	profiles   *users.Service
	tokens     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
}

func newTestEnvironment(t *testing.T, photos storage.PhotoStore) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "server.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := NewRealtimeDispatcher(zap.NewNop())
	gymService, err := gym.NewService(gym.ServiceConfig{
		Database:   db,
		IDProvider: gym.NewUUIDProvider(),
		Walls:      []string{"wall1", "wall2"},
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build gym service: %v", err)
	}
	profiles, err := users.NewService(users.ServiceConfig{
		Database:      db,
		AdminEmails:   []string{testAdminEmail},
		HashCost:      bcrypt.MinCost,
		AdminCacheTTL: testAdminCacheTTL,
	})
	if err != nil {
		t.Fatalf("failed to build profile service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "gymroutes-auth",
		Audience:      "gymroutes-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		GymService:   gymService,
		Profiles:     profiles,
		TokenManager: tokens,
		Realtime:     dispatcher,
		Photos:       photos,
		Logger:       zap.NewNop(),
		PingInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:    handler,
		db:         db,
		gym:        gymService,
		profiles:   profiles,
		tokens:     tokens,
		dispatcher: dispatcher,
	}
}

// signUp registers a profile over HTTP and returns its id and bearer token.
func (e *testEnvironment) signUp(t *testing.T, email string) (string, string) {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    email,
		"password": "crimp-hard",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("sign up failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var session sessionPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	return session.User.ID, session.AccessToken
}

func (e *testEnvironment) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
