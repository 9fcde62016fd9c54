/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes session logging, payout approval and the audit viewer over
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to payout.Service.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                 Create session (admin)
    POST   /api/sessions/bulk            Create many sessions (admin)
    GET    /api/sessions                 List sessions
    GET    /api/sessions/summary         Counts per dashboard bucket
    GET    /api/sessions/{id}            Session details
    PUT    /api/sessions/{id}            Edit session (admin)
    DELETE /api/sessions/{id}            Delete session (admin)
    POST   /api/sessions/{id}/attendance Mentor confirms attendance
    POST   /api/sessions/{id}/payout     Admin creates payout directly
    GET    /api/sessions/{id}/breakdown  Payout preview

  Payouts:
    GET    /api/payouts                  List payouts (paged)
    GET    /api/payouts/{id}             Payout details
    POST   /api/payouts/{id}/approve     underReview -> pending
    POST   /api/payouts/{id}/pay         -> paid
    PUT    /api/payouts/{id}/status      Move to a named status

  Audit:
    GET    /api/audit                    Audit viewer page (admin)
    POST   /api/activity                 Record login/logout

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (validator tags)
  3. Call payout.Service with the authenticated actor
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid token
  - 403: Actor may not perform the action
  - 404: Resource not found
  - 409: Already processed, locked, or lost a race
  - 413: Request body over 1 MiB
  - 500: Persistence failures

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditLog is the write and read side of the audit trail.
type AuditLog interface {
	payout.Auditor
	Page(ctx context.Context, q audit.Query) (audit.Page, error)
}

// Opener reveals a sealed payment method.
type Opener interface {
	Open(recordID, sealed string) (string, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payout.Service
	Audit   AuditLog
	Vault   Opener
	Log     *slog.Logger

	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error

	validate *validator.Validate
}

func NewHandler(svc *payout.Service, auditLog AuditLog, vault Opener, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Service:  svc,
		Audit:    auditLog,
		Vault:    vault,
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.sessionInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return
	}

	session, err := h.Service.CreateSession(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// CreateSessionsBulk creates each row independently and reports per row.
func (h *Handler) CreateSessionsBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp := BulkResponse{Results: make([]BulkResultDTO, len(req.Sessions))}
	var (
		inputs []payout.SessionInput
		rows   []int
	)
	for i, row := range req.Sessions {
		resp.Results[i].Index = i
		in, err := h.sessionInput(row)
		if err != nil {
			resp.Results[i].Error = err.Error()
			resp.Failed++
			continue
		}
		inputs = append(inputs, in)
		rows = append(rows, i)
	}

	results, err := h.Service.CreateSessions(r.Context(), actor(r), inputs)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create sessions")
		return
	}
	for j, res := range results {
		i := rows[j]
		if res.Err != nil {
			resp.Results[i].Error = res.Err.Error()
			resp.Failed++
			continue
		}
		dto := toSessionDTO(*res.Session)
		resp.Results[i].Session = &dto
		resp.Created++
	}

	status := http.StatusCreated
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	f := payout.SessionFilter{
		MentorID: payout.MentorID(r.URL.Query().Get("mentor_id")),
		UIStatus: payout.UIStatus(r.URL.Query().Get("ui_status")),
	}
	sessions, err := h.Service.ListSessions(r.Context(), actor(r), f)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTOs(sessions))
}

func (h *Handler) SessionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context(), actor(r), payout.MentorID(r.URL.Query().Get("mentor_id")))
	if err != nil {
		h.writeServiceError(w, err, "Failed to summarize sessions")
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		Unpaid: sum.Unpaid,
		Review: sum.Review,
		Paid:   sum.Paid,
		Total:  sum.Total(),
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Service.GetSession(r.Context(), actor(r), sessionID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.sessionInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return
	}

	session, err := h.Service.UpdateSession(r.Context(), actor(r), sessionID(r), in)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteSession(r.Context(), actor(r), sessionID(r)); err != nil {
		h.writeServiceError(w, err, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAttended(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.MarkAttended(r.Context(), actor(r), sessionID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to mark attendance")
		return
	}
	writeJSON(w, http.StatusCreated, h.payoutDTO(actor(r), p))
}

func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.CreatePayout(r.Context(), actor(r), sessionID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to create payout")
		return
	}
	writeJSON(w, http.StatusCreated, h.payoutDTO(actor(r), p))
}

func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.PreviewBreakdown(r.Context(), actor(r), sessionID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to compute breakdown")
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := atoiDefault(q.Get("limit"), payout.DefaultPageLimit)
	if limit < 1 {
		limit = payout.DefaultPageLimit
	}
	if limit > payout.MaxPageLimit {
		limit = payout.MaxPageLimit
	}

	a := actor(r)
	payouts, total, err := h.Service.ListPayouts(r.Context(), a, payout.PayoutFilter{
		MentorID: payout.MentorID(q.Get("mentor_id")),
		Status:   payout.PayoutStatus(q.Get("status")),
		Offset:   (page - 1) * limit,
		Limit:    limit,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to list payouts")
		return
	}

	resp := PayoutListResponse{
		Payouts:    make([]PayoutDTO, len(payouts)),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
	for i, p := range payouts {
		resp.Payouts[i] = h.payoutDTO(a, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayout(r.Context(), actor(r), payoutID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to get payout")
		return
	}
	writeJSON(w, http.StatusOK, h.payoutDTO(actor(r), p))
}

func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Approve(r.Context(), actor(r), payoutID(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to update payment status")
		return
	}
	writeJSON(w, http.StatusOK, h.payoutDTO(actor(r), p))
}

func (h *Handler) PayPayout(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.Pay(r.Context(), actor(r), payoutID(r), payout.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeServiceError(w, err, "Failed to update payment status")
		return
	}
	writeJSON(w, http.StatusOK, h.payoutDTO(actor(r), p))
}

func (h *Handler) UpdatePayoutStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.ChangeStatus(r.Context(), actor(r), payoutID(r),
		payout.PayoutStatus(req.Status), payout.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeServiceError(w, err, "Failed to update payment status")
		return
	}
	writeJSON(w, http.StatusOK, h.payoutDTO(actor(r), p))
}

// payoutDTO reveals the payment method to admins only.
func (h *Handler) payoutDTO(a audit.Actor, p payout.Payout) PayoutDTO {
	dto := toPayoutDTO(p)
	if p.PaymentMethod == "" || !a.IsAdmin() || h.Vault == nil {
		return dto
	}
	method, err := h.Vault.Open(string(p.ID), p.PaymentMethod)
	if err != nil {
		h.Log.Warn("failed to open payment method",
			slog.String("payout_id", string(p.ID)),
			slog.Any("error", err))
		return dto
	}
	dto.PaymentMethod = method
	return dto
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit serves one page of the audit viewer. Ten entries per page,
// newest first; with an email filter, grouped by email.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !actor(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "Forbidden", payout.ErrForbidden)
		return
	}

	q := r.URL.Query()
	query := audit.Query{
		Action:      audit.Action(q.Get("action_type")),
		EmailPrefix: q.Get("email"),
		Direction:   audit.Direction(q.Get("direction")),
	}
	if query.Action != "" && !query.Action.Known() {
		writeError(w, http.StatusBadRequest, "Invalid action_type", fmt.Errorf("unknown action %q", query.Action))
		return
	}
	switch query.Direction {
	case "", audit.Forward, audit.Backward:
	default:
		writeError(w, http.StatusBadRequest, "Invalid direction", fmt.Errorf("direction must be next or prev"))
		return
	}
	cursor, err := audit.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cursor", err)
		return
	}
	query.Cursor = cursor

	page, err := h.Audit.Page(r.Context(), query)
	if err != nil {
		h.Log.Error("failed to query audit log", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to load audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditPageResponse(page))
}

// RecordActivity logs a login or logout for the calling user.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := actor(r)
	details := "User logged in"
	if req.Action == string(audit.ActionLogout) {
		details = "User logged out"
	}

	id, ok := h.Audit.Record(context.WithoutCancel(r.Context()), a, audit.Action(req.Action),
		audit.Target{Type: audit.TargetUser, ID: a.ID}, details, nil, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{"recorded": ok, "id": string(id)})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) audit.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func sessionID(r *http.Request) payout.SessionID {
	return payout.SessionID(chi.URLParam(r, "id"))
}

func payoutID(r *http.Request) payout.PayoutID {
	return payout.PayoutID(chi.URLParam(r, "id"))
}

// maxBodyBytes covers a full bulk import (100 rows with long notes).
const maxBodyBytes = 1 << 20

// decode reads and validates a JSON body. On failure it writes the 400
// (413 for oversized bodies) and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func (h *Handler) sessionInput(req SessionRequest) (payout.SessionInput, error) {
	if err := h.validate.Struct(req); err != nil {
		return payout.SessionInput{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return payout.SessionInput{}, err
	}
	return payout.SessionInput{
		MentorID:        payout.MentorID(req.MentorID),
		MentorEmail:     req.MentorEmail,
		Type:            payout.SessionType(req.SessionType),
		Date:            date,
		DurationMinutes: req.Duration,
		RatePerHour:     req.RatePerHour,
		Notes:           req.Notes,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: use YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// writeServiceError maps domain errors to HTTP status codes. Anything
// unrecognized is a 500 with fallback as the message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case payout.IsForbidden(err):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case payout.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, payout.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, "Payout already processed", err)
	case payout.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case payout.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.Log.Error(fallback, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, fallback, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
