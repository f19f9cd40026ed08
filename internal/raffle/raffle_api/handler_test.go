package raffle_api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/raffle_api"
	"ms-raffle/internal/raffle/tickets"
	"ms-raffle/internal/receipts"
	"ms-raffle/internal/sse"
	"ms-raffle/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fakeUploader struct {
	mu      sync.Mutex
	names   []string
	folders []string
}

func (f *fakeUploader) Upload(_ context.Context, folder, name string, data []byte) (*upload.Result, error) {
	mtype, err := upload.Detect(data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.names = append(f.names, name)
	f.folders = append(f.folders, folder)
	f.mu.Unlock()
	return &upload.Result{FileID: "f1", Name: name, URL: "https://ik.imagekit.io/raffle/" + name, MimeType: mtype.String()}, nil
}

func (f *fakeUploader) AuthParams() (*upload.AuthParams, error) {
	return &upload.AuthParams{Token: "tok", Expire: 1, Signature: "sig", PublicKey: "pub"}, nil
}

type testServer struct {
	router  http.Handler
	store   *db.DB
	events  *sse.AvailabilityEmitter
	handler *raffle_api.Handler
}

func setupServer(t *testing.T) *testServer {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	store := &db.DB{Bun: bun.NewDB(sqldb, sqlitedialect.New())}
	require.NoError(t, store.CreateSchema(context.Background()))
	t.Cleanup(func() { store.Bun.Close() })

	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), &models.User{Username: "admin", PasswordHash: hash}))

	log := logger.New(io.Discard)
	events := sse.NewAvailabilityEmitter()
	prices := tickets.PriceList{
		USD: tickets.Price{Single: 2, TenPack: 15},
		Bs:  tickets.Price{Single: 265, TenPack: 2130},
	}
	svc := raffle.NewRaffleService(store, nil, events, log, prices, 100)

	sessions := auth.NewSessions("test-session-secret", time.Hour, false)
	qr, err := receipts.NewQRGenerator("test-qr-secret")
	require.NoError(t, err)

	h := &raffle_api.Handler{
		Service:  svc,
		Auth:     auth.NewAuthenticator(store, log),
		Sessions: sessions,
		Guard:    &auth.Guard{Sessions: sessions, Logger: log},
		Uploader: &fakeUploader{},
		QR:       qr,
		Events:   events,
		Logger:   log,
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &testServer{router: r, store: store, events: events, handler: h}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) (*httptest.ResponseRecorder, envelope) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) login(t *testing.T) *http.Cookie {
	rec, env := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func entryBody(numbers ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"ticketNumbers":    numbers,
		"fullName":         "Ana Pérez",
		"idNumber":         "V123",
		"phone":            "04121234567",
		"countryCode":      "VE",
		"countryName":      "Venezuela",
		"paymentReference": "REF-9",
		"accountHolder":    "Ana Pérez",
		"fileUrl":          "https://x/y.jpg",
		"fileName":         "y.jpg",
		"mimeType":         "image/jpeg",
	}
}

func TestSubmitEntryThenConflict(t *testing.T) {
	s := setupServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/entries", entryBody("0010", 11))
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	assert.True(t, env.Success)
	assert.Contains(t, env.Message, "0010, 0011")

	rec, env = s.do(t, http.MethodGet, "/api/tickets/sold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sold []int
	require.NoError(t, json.Unmarshal(env.Data, &sold))
	assert.Equal(t, []int{10, 11}, sold)

	rec, env = s.do(t, http.MethodPost, "/api/entries", entryBody(11, 12))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "0011")
	assert.NotContains(t, env.Message, "0012")

	_, env = s.do(t, http.MethodGet, "/api/tickets/sold", nil)
	require.NoError(t, json.Unmarshal(env.Data, &sold))
	assert.Equal(t, []int{10, 11}, sold)
}

func TestSubmitEntryValidation(t *testing.T) {
	s := setupServer(t)

	body := entryBody(1)
	body["fileUrl"] = ""
	rec, env := s.do(t, http.MethodPost, "/api/entries", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "fileUrl")

	rec, _ = s.do(t, http.MethodPost, "/api/entries", entryBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/entries", entryBody("12345"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/entries", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestCheckTickets(t *testing.T) {
	s := setupServer(t)
	s.do(t, http.MethodPost, "/api/entries", entryBody(7))

	rec, env := s.do(t, http.MethodPost, "/api/tickets/check", map[string]interface{}{"ticketNumbers": []int{6, 7}})
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Available   bool  `json:"available"`
		Unavailable []int `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.False(t, out.Available)
	assert.Equal(t, []int{7}, out.Unavailable)

	rec, env = s.do(t, http.MethodPost, "/api/tickets/check", map[string]interface{}{"ticketNumbers": []int{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
}

func TestVerifyTicketsEndpoint(t *testing.T) {
	s := setupServer(t)
	s.do(t, http.MethodPost, "/api/entries", entryBody(0, 9999))

	rec, env := s.do(t, http.MethodPost, "/api/verify", map[string]string{"identifier": "04121234567"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.VerificationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, []int{0, 9999}, result.Tickets)
	require.Len(t, result.Purchases, 1)
	assert.Equal(t, "https://x/y.jpg", result.Purchases[0].FileURL)

	rec, env = s.do(t, http.MethodPost, "/api/verify", map[string]string{"identifier": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Empty(t, env.Data)

	rec, _ = s.do(t, http.MethodPost, "/api/verify", map[string]string{"identifier": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteLuckyAvailability(t *testing.T) {
	s := setupServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/tickets/quote?count=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q tickets.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, 15, q.USD)
	assert.Equal(t, 2130, q.Bs)

	rec, _ = s.do(t, http.MethodGet, "/api/tickets/quote?count=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/tickets/lucky?count=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lucky struct {
		Tickets []int    `json:"tickets"`
		Display []string `json:"display"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &lucky))
	assert.Len(t, lucky.Tickets, 5)
	assert.Len(t, lucky.Display, 5)

	rec, _ = s.do(t, http.MethodGet, "/api/tickets/lucky?count=1000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/tickets/availability?page=2&pageSize=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.AvailabilityPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, "0050", page.Slots[0].Display)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/admin/entries", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := s.login(t)
	rec, env := s.do(t, http.MethodGet, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "admin")

	rec, _ = s.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.True(t, cleared[0].MaxAge < 0)
}

func TestDashboardAndDelete(t *testing.T) {
	s := setupServer(t)
	cookie := s.login(t)

	rec, env := s.do(t, http.MethodPost, "/api/entries", entryBody(10, 11))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.SubmitEntryResult
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, env = s.do(t, http.MethodGet, "/api/admin/entries?search=0011", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash models.Dashboard
	require.NoError(t, json.Unmarshal(env.Data, &dash))
	require.Len(t, dash.Entries, 1)
	assert.Equal(t, 2, dash.Entries[0].TicketCount)
	assert.Equal(t, "0011", dash.SearchedTicket)

	path := fmt.Sprintf("/api/admin/entries/%d", created.EntryID)
	rec, _ = s.do(t, http.MethodDelete, path, nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	_, env = s.do(t, http.MethodGet, "/api/tickets/sold", nil)
	var sold []int
	require.NoError(t, json.Unmarshal(env.Data, &sold))
	assert.Empty(t, sold)

	rec, _ = s.do(t, http.MethodDelete, path, nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/admin/entries/abc", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiptRoundTrip(t *testing.T) {
	s := setupServer(t)
	cookie := s.login(t)

	_, env := s.do(t, http.MethodPost, "/api/entries", entryBody(42))
	var created models.SubmitEntryResult
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/admin/entries/%d/receipt.png", created.EntryID), nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	token, err := s.handler.QR.Seal(receipts.Receipt{EntryID: created.EntryID, Tickets: []int{42}})
	require.NoError(t, err)
	rec, env = s.do(t, http.MethodPost, "/api/receipts/verify", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"valid":true`)

	rec, _ = s.do(t, http.MethodPost, "/api/receipts/verify", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadProof(t *testing.T) {
	s := setupServer(t)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", "pago.png")
	require.NoError(t, err)
	part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"))
	require.NoError(t, form.WriteField("folder", "/raffle/march"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://ik.imagekit.io/raffle/pago.png")
	uploader := s.handler.Uploader.(*fakeUploader)
	assert.Equal(t, []string{"/raffle/march"}, uploader.folders)

	body.Reset()
	form = multipart.NewWriter(body)
	part, _ = form.CreateFormFile("file", "notes.txt")
	part.Write([]byte("plain text is not a payment proof"))
	form.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/uploads/auth", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"signature":"sig"`)
}

func TestStreamAvailability(t *testing.T) {
	s := setupServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/tickets/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.events.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// the snapshot is written after subscribing, give it a moment
	time.Sleep(50 * time.Millisecond)
	s.events.Emit(models.AvailabilityEvent{Action: models.AvailabilitySold, EntryID: 1, Tickets: []int{3}, SoldCount: 1})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}

	out := rec.Body.String()
	assert.Contains(t, out, "event: snapshot")
	assert.Contains(t, out, "event: availability")
	assert.Contains(t, out, `"tickets":[3]`)
	assert.Equal(t, "text/event-stream;charset=UTF-8", rec.Header().Get("Content-Type"))
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
