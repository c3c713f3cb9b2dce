package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/roomdesign-system/internal/middleware"
	"github.com/mmeshcher/roomdesign-system/internal/model"
	"github.com/mmeshcher/roomdesign-system/internal/orchestrator"
	"github.com/mmeshcher/roomdesign-system/internal/repository"
	"github.com/mmeshcher/roomdesign-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	balanceResp *model.Balance
	balanceErr  error

	historyResp []model.LedgerEntry
	historyErr  error

	purchaseBalance int64
	purchaseErr     error

	generationResp *service.GenerationResult
	generationErr  error
	generationIn   service.StartGenerationInput

	designsResp []model.Design
	designsErr  error

	designResp   *model.Design
	designImages []model.GeneratedImage
	designErr    error

	favoriteErr error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) GetLedgerHistory(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.historyResp, s.historyErr
}

func (s *stubService) PurchaseCredits(ctx context.Context, userID, amount int64, orderID string) (int64, error) {
	return s.purchaseBalance, s.purchaseErr
}

func (s *stubService) StartGeneration(ctx context.Context, userID int64, in service.StartGenerationInput) (*service.GenerationResult, error) {
	s.generationIn = in
	return s.generationResp, s.generationErr
}

func (s *stubService) GetDesignsByUser(ctx context.Context, userID int64) ([]model.Design, error) {
	return s.designsResp, s.designsErr
}

func (s *stubService) GetDesign(ctx context.Context, designID string, userID int64) (*model.Design, []model.GeneratedImage, error) {
	return s.designResp, s.designImages, s.designErr
}

func (s *stubService) SetImageFavorite(ctx context.Context, imageID string, userID int64, favorite bool) error {
	return s.favoriteErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authCookie(t *testing.T, h *Handler, userID int64) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no auth cookie set")
	}
	return cookies[0]
}

func multipartDesignRequest(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("image", "room.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("image-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	return &buf, mw.FormDataContentType()
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set on register")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: errors.New("invalid credentials"),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetBalance_JSONResponse(t *testing.T) {
	svc := &stubService{
		balanceResp: &model.Balance{Current: 17},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/balance", nil)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetBalance))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var balance model.Balance
	if err := json.NewDecoder(res.Body).Decode(&balance); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if balance.Current != 17 {
		t.Fatalf("current = %d, want 17", balance.Current)
	}
}

func TestGetCreditsHistory_NoContent(t *testing.T) {
	svc := &stubService{
		historyResp: []model.LedgerEntry{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/credits", nil)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetCreditsHistory))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestPurchaseCredits_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(purchaseRequest{Amount: 0, Order: "order-1"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/credits/purchase", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.PurchaseCredits))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateDesign_Created(t *testing.T) {
	svc := &stubService{
		generationResp: &service.GenerationResult{
			Design: model.Design{
				ID:          "design-1",
				Status:      model.DesignStatusCompleted,
				CreditsUsed: 2,
				Style:       "modern",
				RoomType:    "bedroom",
				CreatedAt:   time.Now(),
			},
			Images: []model.GeneratedImage{
				{ID: "img-1", ImageURL: "https://storage.example/v0.png", Provider: "fal", VariationIndex: 0},
				{ID: "img-2", ImageURL: "https://storage.example/v1.png", Provider: "fal", VariationIndex: 1},
			},
			Outcome: orchestrator.OutcomeFull,
		},
	}
	h := newTestHandler(t, svc)

	body, contentType := multipartDesignRequest(t, map[string]string{
		"style":          "modern",
		"room_type":      "bedroom",
		"num_variations": "2",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/designs", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateDesign))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp designResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.ID != "design-1" || resp.Status != "COMPLETED" {
		t.Fatalf("unexpected design response: %+v", resp)
	}
	if len(resp.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(resp.Images))
	}

	if svc.generationIn.NumVariations != 2 {
		t.Fatalf("numVariations = %d, want 2", svc.generationIn.NumVariations)
	}
	if string(svc.generationIn.ImageData) != "image-bytes" {
		t.Fatalf("image data not passed through")
	}
}

func TestCreateDesign_InsufficientCredits(t *testing.T) {
	svc := &stubService{
		generationErr: repository.ErrInsufficientCredits,
	}
	h := newTestHandler(t, svc)

	body, contentType := multipartDesignRequest(t, map[string]string{
		"style":     "modern",
		"room_type": "bedroom",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/designs", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateDesign))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusPaymentRequired)
	}
}

func TestCreateDesign_InvalidInput(t *testing.T) {
	svc := &stubService{
		generationErr: service.ErrInvalidInput,
	}
	h := newTestHandler(t, svc)

	body, contentType := multipartDesignRequest(t, map[string]string{
		"style":     "vaporwave",
		"room_type": "bedroom",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/designs", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateDesign))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateDesign_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, contentType := multipartDesignRequest(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/designs", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateDesign))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetDesign_NotFound(t *testing.T) {
	svc := &stubService{
		designErr: repository.ErrDesignNotFound,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/designs/unknown-id", nil)
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestSetImageFavorite_OK(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(favoriteRequest{Favorite: true})

	req := httptest.NewRequest(http.MethodPost, "/api/designs/design-1/images/img-1/favorite", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		t.Fatalf("status = %d, want %d (%s)", res.StatusCode, http.StatusOK, string(b))
	}
}
