package server

import (
	contextpkg "context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: auth.ErrExpiredToken},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestSignUpSignInAndSignOut(t *testing.T) {
	env := newTestEnvironment(t, nil)

	userID, token := env.signUp(t, "climber@example.com")
	require.NotEmpty(t, userID)

	recorder := env.do(t, http.MethodGet, "/auth/user", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var user userPayload
	decodeBody(t, recorder, &user)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "climber", user.Username)
	assert.False(t, user.IsAdmin)

	recorder = env.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "climber@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.JSONEq(t, `{"error":"invalid_credentials"}`, recorder.Body.String())

	recorder = env.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "climber@example.com", "password": "crimp-hard"})
	require.Equal(t, http.StatusOK, recorder.Code)
	var session sessionPayload
	decodeBody(t, recorder, &session)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, userID, session.User.ID)

	recorder = env.do(t, http.MethodPost, "/auth/signout", token, nil)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	recorder = env.do(t, http.MethodGet, "/auth/user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/auth/user", session.AccessToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code, "other sessions survive sign out")
}

func TestSignUpConflictsAndAdminFlag(t *testing.T) {
	env := newTestEnvironment(t, nil)

	_, adminToken := env.signUp(t, testAdminEmail)
	recorder := env.do(t, http.MethodGet, "/auth/user", adminToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var user userPayload
	decodeBody(t, recorder, &user)
	assert.True(t, user.IsAdmin)

	recorder = env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": testAdminEmail, "password": "crimp-hard"})
	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.JSONEq(t, `{"error":"email_taken"}`, recorder.Body.String())

	recorder = env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "x@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAuthPayloadValidation(t *testing.T) {
	env := newTestEnvironment(t, nil)

	cases := map[string]struct {
		path string
		body map[string]string
	}{
		"signup invalid email":    {path: "/auth/signup", body: map[string]string{"email": "not-an-email", "password": "crimp-hard"}},
		"signup short password":   {path: "/auth/signup", body: map[string]string{"email": "short@example.com", "password": "crimp"}},
		"signup missing password": {path: "/auth/signup", body: map[string]string{"email": "short@example.com"}},
		"signin missing email":    {path: "/auth/signin", body: map[string]string{"password": "crimp-hard"}},
		"signin invalid email":    {path: "/auth/signin", body: map[string]string{"email": "climber", "password": "crimp-hard"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			recorder := env.do(t, http.MethodPost, tc.path, "", tc.body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.JSONEq(t, `{"error":"invalid_request"}`, recorder.Body.String())
		})
	}
}

type stubTokenManager struct {
	validateErr error
}

func (s stubTokenManager) IssueToken(contextpkg.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateRequest(*http.Request) (auth.Claims, error) {
	return auth.Claims{}, s.validateErr
}

func (s stubTokenManager) Revoke(auth.Claims) {}
