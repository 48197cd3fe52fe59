package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/background"
	"github.com/BradenHooton/subdivisync/internal/config"
	"github.com/BradenHooton/subdivisync/internal/database"
	"github.com/BradenHooton/subdivisync/internal/handlers"
	middlewareCustom "github.com/BradenHooton/subdivisync/internal/middleware"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/repositories"
	"github.com/BradenHooton/subdivisync/internal/routes"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// CapturingSender records every email handed to it by the dispatcher
type CapturingSender struct {
	mu   sync.Mutex
	sent []models.EmailMessage
}

// Send records msg
func (s *CapturingSender) Send(ctx context.Context, msg models.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

// WaitFor returns the most recent email of kind sent to to, polling until
// timeout because delivery happens on a worker goroutine
func (s *CapturingSender) WaitFor(kind, to string, timeout time.Duration) *models.EmailMessage {
	deadline := time.Now().Add(timeout)
	for {
		if msg := s.last(kind, to); msg != nil || time.Now().After(deadline) {
			return msg
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Count returns how many emails of kind were sent to to
func (s *CapturingSender) Count(kind, to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.sent {
		if msg.Kind == kind && msg.To == to {
			n++
		}
	}
	return n
}

func (s *CapturingSender) last(kind, to string) *models.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Kind == kind && s.sent[i].To == to {
			msg := s.sent[i]
			return &msg
		}
	}
	return nil
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server     *httptest.Server
	DB         *database.DB
	Emails     *CapturingSender
	Config     *config.Config
	Users      *repositories.UserRepository
	Security   *repositories.SecurityRecordRepository
	AdminLock  *services.AdminLockService
	dispatcher *background.NotificationDispatcher
}

// NewTestServer initializes the full router over a real database with
// emails captured in memory
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RateLimitPerMinute: 1000,
		},
		Email: config.EmailConfig{
			FromAddress: "noreply@test.local",
			AppBaseURL:  "http://localhost:3000",
		},
		Lockout: config.LockoutConfig{
			MaxFailedAttempts: 3,
			UnlockTokenTTL:    7 * 24 * time.Hour,
		},
		Notifications: config.NotificationConfig{
			Workers:     1,
			QueueSize:   50,
			SendTimeout: 2 * time.Second,
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	userRepo, securityRepo := InitializeRepositories(db)

	sender := &CapturingSender{}
	dispatcher := background.NewNotificationDispatcher(sender, background.DispatcherConfig{
		Workers:     cfg.Notifications.Workers,
		QueueSize:   cfg.Notifications.QueueSize,
		SendTimeout: cfg.Notifications.SendTimeout,
	}, logger)
	dispatcher.Start()

	auditLogger := pkglogger.NewAuditLogger(logger)
	composer := services.NewEmailComposer(cfg.Email.AppBaseURL, cfg.Email.FromAddress)
	policy := services.LockoutPolicy{
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		UnlockTokenTTL:    cfg.Lockout.UnlockTokenTTL,
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	lockoutService := services.NewLockoutService(userRepo, securityRepo, dispatcher, composer, policy, logger, auditLogger)
	unlockRequestService := services.NewUnlockRequestService(userRepo, securityRepo, logger, auditLogger)
	adminLockService := services.NewAdminLockService(userRepo, userRepo, securityRepo, dispatcher, composer, policy, logger, auditLogger)
	authService := services.NewAuthService(userRepo, lockoutService, tokenManager, logger, auditLogger)

	h := routes.Handlers{
		Auth:          handlers.NewAuthHandler(authService, ipConfig, nil, logger),
		Lockout:       handlers.NewLockoutHandler(lockoutService, ipConfig, nil, logger),
		UnlockRequest: handlers.NewUnlockRequestHandler(unlockRequestService, logger),
		Admin:         handlers.NewAdminHandler(adminLockService, logger),
	}
	limit := middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.RateLimitPerMinute, IPConfig: ipConfig}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, h, tokenManager, userRepo, limit, limit)
	r.Get("/health", handlers.Health(db))

	return &TestServer{
		Server:     httptest.NewServer(r),
		DB:         db,
		Emails:     sender,
		Config:     cfg,
		Users:      userRepo,
		Security:   securityRepo,
		AdminLock:  adminLockService,
		dispatcher: dispatcher,
	}
}

// Close shuts down the test server and drains the email queue
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.dispatcher != nil {
		ts.dispatcher.Stop()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// Login signs in and returns the access token
func (ts *TestServer) Login(email, password string) (string, *http.Response, error) {
	resp, err := ts.Request("POST", "/auth/login", map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp, nil
	}

	var body handlers.LoginResponse
	if err := ParseJSONResponse(resp, &body); err != nil {
		return "", resp, err
	}
	return body.AccessToken, resp, nil
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
