package raffle_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/raffle/tickets"
	"ms-raffle/internal/receipts"
	"ms-raffle/internal/sse"
	"ms-raffle/internal/upload"
	"ms-raffle/internal/utils"

	"github.com/go-chi/chi/v5"
)

const maxJSONBody = 1 << 20

type Uploader interface {
	Upload(ctx context.Context, folder, fileName string, data []byte) (*upload.Result, error)
	AuthParams() (*upload.AuthParams, error)
}

type Revoker interface {
	Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error
}

type Handler struct {
	Service     *raffle.RaffleService
	Auth        *auth.Authenticator
	Sessions    *auth.Sessions
	Guard       *auth.Guard
	Revocations Revoker
	Uploader    Uploader
	QR          *receipts.QRGenerator
	Events      *sse.AvailabilityEmitter
	Logger      *logger.Logger
}

// RegisterRoutes registers the public and admin routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/entries", h.SubmitEntry)

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/sold", h.SoldTickets)
			r.Post("/check", h.CheckTickets)
			r.Get("/availability", h.Availability)
			r.Get("/quote", h.Quote)
			r.Get("/lucky", h.LuckyPick)
			r.Get("/events", h.StreamAvailability)
		})

		r.Post("/verify", h.VerifyTickets)
		r.Post("/receipts/verify", h.VerifyReceipt)

		r.Post("/uploads", h.UploadProof)
		r.Get("/uploads/auth", h.UploadAuth)

		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.Guard.Middleware())
			r.Get("/auth/session", h.Session)
			r.Get("/admin/entries", h.Dashboard)
			r.Delete("/admin/entries/{entryId}", h.DeleteEntry)
			r.Get("/admin/entries/{entryId}/receipt.png", h.Receipt)
		})
	})
}

// writeError maps service errors onto status codes. Server errors never
// expose their cause.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, raffle.ErrValidation):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", strings.TrimPrefix(err.Error(), raffle.ErrValidation.Error()+": ")))
	case errors.Is(err, raffle.ErrNoIdentifier):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(err.Error(), err.Error()))
	case errors.Is(err, raffle.ErrTicketsUnavailable):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse(err.Error(), err.Error()))
	case errors.Is(err, raffle.ErrNotEnoughAvailable):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Not enough tickets available", err.Error()))
	case errors.Is(err, raffle.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("Request failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Server error, please try again", "internal error"))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", raffle.ErrValidation, key)
	}
	return n, nil
}

// ticketNumbers accepts ticket numbers as JSON integers or as their
// zero-padded display strings.
type ticketNumbers []int

func (t *ticketNumbers) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ticketNumbers must be a list")
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return err
			}
			n, err := tickets.Parse(s)
			if err != nil {
				return err
			}
			out = append(out, n)
			continue
		}
		var n int
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("invalid ticket number %s", string(item))
		}
		out = append(out, n)
	}
	*t = out
	return nil
}

type submitEntryBody struct {
	models.SubmitEntryRequest
	TicketNumbers ticketNumbers `json:"ticketNumbers"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------- ENTRIES ----------------

func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	var body submitEntryBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req := body.SubmitEntryRequest
	req.TicketNumbers = body.TicketNumbers

	result, err := h.Service.SubmitEntry(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse(
		fmt.Sprintf("Registration successful. Your tickets: %s", tickets.FormatAll(result.TicketNumbers)), result))
}

// ---------------- TICKETS ----------------

func (h *Handler) SoldTickets(w http.ResponseWriter, r *http.Request) {
	sold, err := h.Service.SoldTickets(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d tickets sold", len(sold)), sold))
}

func (h *Handler) CheckTickets(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TicketNumbers ticketNumbers `json:"ticketNumbers"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.TicketNumbers) == 0 {
		h.writeError(w, fmt.Errorf("%w: select at least one ticket", raffle.ErrValidation))
		return
	}
	if _, err := tickets.Normalize(body.TicketNumbers); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", raffle.ErrValidation, err))
		return
	}

	taken, err := h.Service.CheckAllocation(r.Context(), body.TicketNumbers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if taken == nil {
		taken = []int{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Allocation checked", map[string]interface{}{
		"available":   len(taken) == 0,
		"unavailable": taken,
	}))
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.Service.Availability(r.Context(), page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket availability", result))
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	quote, err := h.Service.Quote(count)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Price quote", quote))
}

func (h *Handler) LuckyPick(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 1)
	if err != nil {
		h.writeError(w, err)
		return
	}
	picked, err := h.Service.LuckyPick(r.Context(), count)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Lucky numbers", map[string]interface{}{
		"tickets": picked,
		"display": strings.Split(tickets.FormatAll(picked), ", "),
		"quote":   h.Service.Prices.Quote(len(picked)),
	}))
}

// ---------------- VERIFICATION ----------------

func (h *Handler) VerifyTickets(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.Service.VerifyTickets(r.Context(), body.Identifier)
	if err != nil {
		if errors.Is(err, raffle.ErrNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No tickets found for this identifier", "not found"))
			return
		}
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(
		fmt.Sprintf("Found %d purchase(s)", len(result.Purchases)), result))
}

// VerifyReceipt checks a scanned receipt QR against the current entry.
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Receipts are not enabled", "not configured"))
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	receipt, err := h.QR.Open(strings.TrimSpace(body.Token))
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid receipt", err.Error()))
		return
	}

	entry, err := h.Service.EntryTickets(r.Context(), receipt.EntryID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	current := tickets.NewSet(entry.Tickets)
	valid := len(receipt.Tickets) == len(entry.Tickets)
	for _, n := range receipt.Tickets {
		if !current.Has(n) {
			valid = false
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Receipt checked", map[string]interface{}{
		"valid":   valid,
		"receipt": receipt,
		"entry":   entry,
	}))
}

// ---------------- UPLOADS ----------------

func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxUploadSize+maxJSONBody)
	if err := r.ParseMultipartForm(upload.MaxUploadSize); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid upload", err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("No file provided", err.Error()))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, upload.MaxUploadSize+1))
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid upload", err.Error()))
		return
	}

	name := r.FormValue("fileName")
	if name == "" {
		name = header.Filename
	}

	result, err := h.Uploader.Upload(r.Context(), r.FormValue("folder"), name, data)
	switch {
	case errors.Is(err, upload.ErrEmptyFile), errors.Is(err, upload.ErrTooLarge), errors.Is(err, upload.ErrUnsupportedType):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid upload", err.Error()))
		return
	case errors.Is(err, upload.ErrNotConfigured):
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Uploads are not enabled", err.Error()))
		return
	case err != nil:
		h.Logger.Error("UPLOAD", fmt.Sprintf("Upload of %s failed: %v", name, err))
		utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse("Upload failed, please try again", "upload failed"))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("File uploaded", result))
}

func (h *Handler) UploadAuth(w http.ResponseWriter, r *http.Request) {
	params, err := h.Uploader.AuthParams()
	if err != nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Uploads are not enabled", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, params)
}

// ---------------- AUTH ----------------

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.Auth.Login(r.Context(), body.Username, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Invalid username or password", err.Error()))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	claims, err := h.Sessions.Issue(w, user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Logged in", map[string]interface{}{
		"userId":   claims.UserID,
		"username": claims.Username,
		"expires":  claims.Expires,
	}))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.Sessions.Read(r); err == nil && h.Revocations != nil {
		if err := h.Revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			h.Logger.Warn("AUTH", fmt.Sprintf("Failed to revoke session %s: %v", claims.ID, err))
		}
	}
	h.Sessions.Clear(w)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Logged out", nil))
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Authenticated", auth.CurrentPrincipal(r.Context())))
}

// ---------------- ADMIN ----------------

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.Service.Dashboard(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d entries", len(dash.Entries)), dash))
}

func entryIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entryId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid entry id", raffle.ErrValidation)
	}
	return id, nil
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Service.DeleteEntry(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	if p := auth.CurrentPrincipal(r.Context()); p != nil {
		h.Logger.LogSecurity("ENTRY_DELETED", fmt.Sprintf("entry %d deleted by %s", id, p.Username))
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Entry deleted successfully", nil))
}

func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Receipts are not enabled", "not configured"))
		return
	}
	id, err := entryIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entry, err := h.Service.EntryTickets(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := h.QR.GenerateEncryptedQR(receipts.Receipt{
		EntryID:  entry.ID,
		FullName: entry.FullName,
		Tickets:  entry.Tickets,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=receipt-%d.png", entry.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
