package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/handlers"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
	"invoicing-backend/internal/websocket"
)

type stubClientRepo struct{}

func (stubClientRepo) Create(context.Context, *models.Client) error { return nil }
func (stubClientRepo) GetByID(context.Context, uuid.UUID) (*models.Client, error) {
	return &models.Client{Name: "Acme"}, nil
}
func (stubClientRepo) List(context.Context) ([]*models.Client, error) { return nil, nil }
func (stubClientRepo) Search(context.Context, string) ([]*models.Client, error) {
	return nil, nil
}
func (stubClientRepo) Update(context.Context, *models.Client) error { return nil }
func (stubClientRepo) Delete(context.Context, uuid.UUID) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	auth := middleware.NewJWTAuth("router-secret")
	token, err := auth.GenerateAccessToken(uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	origins := Origins("http://localhost:3000")
	h := New(auth, middleware.NewRateLimiter(5, time.Minute), Handlers{
		Client: handlers.NewClientHandler(stubClientRepo{}),
	}, websocket.NewHub(nil, auth, origins), origins)
	return h, token
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected healthy response with request id, got %d", rr.Code)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	h, token := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestOrigins(t *testing.T) {
	got := Origins(" http://a.test , ,http://b.test")
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
