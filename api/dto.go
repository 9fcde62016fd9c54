/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts leave the service as exact decimal strings ("4.375"). The
  Display block carries the rounded "$4.38" form for screens.

VALIDATION:
  Request types carry validator tags for shape checks. Business rules
  (past dates, positive rate, transitions) stay in the payout package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// SESSIONS
// =============================================================================

// SessionRequest creates or edits a session. Date accepts RFC3339 or
// YYYY-MM-DD.
type SessionRequest struct {
	MentorID    string          `json:"mentorId" validate:"required"`
	MentorEmail string          `json:"mentorEmail" validate:"required,email"`
	SessionType string          `json:"sessionType" validate:"required,oneof=oneOnOne group workshop review"`
	Date        string          `json:"date" validate:"required"`
	Duration    int             `json:"duration" validate:"min=15"`
	RatePerHour decimal.Decimal `json:"ratePerHour"`
	Notes       string          `json:"notes" validate:"max=2000"`
}

type BulkSessionRequest struct {
	Sessions []SessionRequest `json:"sessions" validate:"required,min=1,max=100"`
}

type SessionDTO struct {
	ID          string     `json:"id"`
	MentorID    string     `json:"mentorId"`
	MentorEmail string     `json:"mentorEmail"`
	SessionType string     `json:"sessionType"`
	Date        time.Time  `json:"date"`
	Duration    int        `json:"duration"`
	RatePerHour string     `json:"ratePerHour"`
	Notes       string     `json:"notes,omitempty"`
	Status      string     `json:"status"`
	UIStatus    string     `json:"uiStatus"`
	IsAttended  bool       `json:"isAttended"`
	IsPaid      bool       `json:"isPaid"`
	AttendedAt  *time.Time `json:"attendedAt,omitempty"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type BulkResultDTO struct {
	Index   int         `json:"index"`
	Session *SessionDTO `json:"session,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type BulkResponse struct {
	Created int             `json:"created"`
	Failed  int             `json:"failed"`
	Results []BulkResultDTO `json:"results"`
}

type SummaryDTO struct {
	Unpaid int `json:"unpaid"`
	Review int `json:"review"`
	Paid   int `json:"paid"`
	Total  int `json:"total"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type BreakdownDTO struct {
	GrossAmount string              `json:"grossAmount"`
	GST         string              `json:"gst"`
	Taxes       string              `json:"taxes"`
	PlatformFee string              `json:"platformFee"`
	NetAmount   string              `json:"netAmount"`
	Display     BreakdownDisplayDTO `json:"display"`
}

type BreakdownDisplayDTO struct {
	GrossAmount string `json:"grossAmount"`
	GST         string `json:"gst"`
	Taxes       string `json:"taxes"`
	PlatformFee string `json:"platformFee"`
	Deductions  string `json:"deductions"`
	NetAmount   string `json:"netAmount"`
}

type PayoutDTO struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	MentorID    string    `json:"mentorId"`
	MentorEmail string    `json:"mentorEmail"`
	SessionType string    `json:"sessionType"`
	SessionDate time.Time `json:"sessionDate"`
	BreakdownDTO
	Status        string     `json:"status"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	PaidDate      *time.Time `json:"paidDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type PayRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=card upi netbanking wallet"`
}

type StatusRequest struct {
	Status        string `json:"status" validate:"required,oneof=underReview pending paid"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,oneof=card upi netbanking wallet"`
}

type PayoutListResponse struct {
	Payouts    []PayoutDTO `json:"payouts"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID            string         `json:"id"`
	SchemaVersion int            `json:"schemaVersion"`
	UserID        string         `json:"userId"`
	UserEmail     string         `json:"userEmail"`
	UserRole      string         `json:"userRole"`
	ActionType    string         `json:"actionType"`
	TargetEntity  string         `json:"targetEntity,omitempty"`
	TargetID      string         `json:"targetId,omitempty"`
	Details       string         `json:"details,omitempty"`
	BeforeData    map[string]any `json:"beforeData,omitempty"`
	AfterData     map[string]any `json:"afterData,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

type AuditPageResponse struct {
	Entries     []AuditEntryDTO `json:"entries"`
	NextCursor  string          `json:"nextCursor,omitempty"`
	PrevCursor  string          `json:"prevCursor,omitempty"`
	HasMore     bool            `json:"hasMore"`
	HasPrevious bool            `json:"hasPrevious"`
}

type ActivityRequest struct {
	Action string `json:"action" validate:"required,oneof=login logout"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSessionDTO(s payout.Session) SessionDTO {
	return SessionDTO{
		ID:          string(s.ID),
		MentorID:    string(s.MentorID),
		MentorEmail: s.MentorEmail,
		SessionType: string(s.Type),
		Date:        s.Date,
		Duration:    s.DurationMinutes,
		RatePerHour: s.RatePerHour.String(),
		Notes:       s.Notes,
		Status:      string(s.Status),
		UIStatus:    string(s.UIStatus()),
		IsAttended:  s.Attended,
		IsPaid:      s.IsPaid(),
		AttendedAt:  s.AttendedAt,
		ReviewedBy:  s.ReviewedBy,
		ReviewedAt:  s.ReviewedAt,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toSessionDTOs(sessions []payout.Session) []SessionDTO {
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	return dtos
}

func toBreakdownDTO(b payout.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		GrossAmount: b.GrossAmount.String(),
		GST:         b.GST.String(),
		Taxes:       b.Taxes.String(),
		PlatformFee: b.PlatformFee.String(),
		NetAmount:   b.NetAmount.String(),
		Display: BreakdownDisplayDTO{
			GrossAmount: payout.FormatAmount(b.GrossAmount),
			GST:         payout.FormatAmount(b.GST),
			Taxes:       payout.FormatAmount(b.Taxes),
			PlatformFee: payout.FormatAmount(b.PlatformFee),
			Deductions:  payout.FormatAmount(b.Deductions()),
			NetAmount:   payout.FormatAmount(b.NetAmount),
		},
	}
}

// toPayoutDTO leaves PaymentMethod empty; handlers fill it for admins.
func toPayoutDTO(p payout.Payout) PayoutDTO {
	return PayoutDTO{
		ID:           string(p.ID),
		SessionID:    string(p.SessionID),
		MentorID:     string(p.MentorID),
		MentorEmail:  p.MentorEmail,
		SessionType:  string(p.SessionType),
		SessionDate:  p.SessionDate,
		BreakdownDTO: toBreakdownDTO(p.Breakdown),
		Status:       string(p.Status),
		PaidDate:     p.PaidDate,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toAuditEntryDTO(e audit.Entry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:            string(e.ID),
		SchemaVersion: e.SchemaVersion,
		UserID:        e.Actor.ID,
		UserEmail:     e.Actor.Email,
		UserRole:      string(e.Actor.Role),
		ActionType:    string(e.Action),
		TargetEntity:  string(e.Target.Type),
		TargetID:      e.Target.ID,
		Details:       e.Details,
		BeforeData:    e.Before,
		AfterData:     e.After,
		Timestamp:     e.Timestamp,
	}
}

func toAuditPageResponse(p audit.Page) AuditPageResponse {
	resp := AuditPageResponse{
		Entries:     make([]AuditEntryDTO, len(p.Entries)),
		HasMore:     p.HasMore,
		HasPrevious: p.HasPrevious,
	}
	for i, e := range p.Entries {
		resp.Entries[i] = toAuditEntryDTO(e)
	}
	if p.Next != nil {
		resp.NextCursor = p.Next.Encode()
	}
	if p.Prev != nil {
		resp.PrevCursor = p.Prev.Encode()
	}
	return resp
}
