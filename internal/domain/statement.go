package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatementKind says whether a persisted record came from a single-month
// or a multi-month source document.
type StatementKind string

const (
	KindMonthly StatementKind = "monthly"
	KindRange   StatementKind = "range"
)

// Valid reports whether k is one of the known statement kinds.
func (k StatementKind) Valid() bool {
	return k == KindMonthly || k == KindRange
}

// ParseStatementKind converts a loosely formatted label into a StatementKind.
func ParseStatementKind(s string) (StatementKind, bool) {
	switch StatementKind(s) {
	case KindMonthly, KindRange:
		return StatementKind(s), true
	}
	return "", false
}

// WorkflowStatus tracks the manual review state of a record.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowValidated WorkflowStatus = "validated"
)

// BankAccount is reference data describing one account statements are filed against.
type BankAccount struct {
	BankID        string `json:"bank_id" yaml:"bank_id"`
	BankName      string `json:"bank_name" yaml:"bank_name"`
	AccountNumber string `json:"account_number" yaml:"account_number"`
	CurrencyCode  string `json:"currency_code" yaml:"currency_code"`
	CompanyID     string `json:"company_id" yaml:"company_id"`

	// Password is the stored document password for this bank's statements, if any.
	Password string `json:"-" yaml:"password"`
}

// RecordKey is the natural key of a StatementRecord.
type RecordKey struct {
	BankID string        `json:"bank_id"`
	Month  int           `json:"month"`
	Year   int           `json:"year"`
	Kind   StatementKind `json:"kind"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%04d-%02d/%s", k.BankID, k.Year, k.Month, k.Kind)
}

// DocumentRef points at the stored source document.
type DocumentRef struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Password string `json:"-"`
}

// Region is a highlighted area on a statement page.
type Region struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MonthlyBalance holds the balances reported for one calendar month.
type MonthlyBalance struct {
	Month          int                 `json:"month"`
	Year           int                 `json:"year"`
	OpeningBalance decimal.NullDecimal `json:"opening_balance"`
	ClosingBalance decimal.NullDecimal `json:"closing_balance"`
	StatementPage  int                 `json:"statement_page,omitempty"`
	ClosingDate    string              `json:"closing_date,omitempty"`

	Verified   bool       `json:"verified"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Highlight *Region `json:"highlight,omitempty"`
}

// SameMonth reports whether b belongs to the given calendar month.
func (b MonthlyBalance) SameMonth(month, year int) bool {
	return b.Month == month && b.Year == year
}

// ExtractionPayload is the structured output extracted from a statement document.
type ExtractionPayload struct {
	BankName      string           `json:"bank_name"`
	AccountNumber string           `json:"account_number"`
	Currency      string           `json:"currency"`
	PeriodText    string           `json:"period_text"`
	Balances      []MonthlyBalance `json:"balances"`
	TotalPages    int              `json:"total_pages"`
}

// Clone returns a deep copy of the payload.
func (p ExtractionPayload) Clone() ExtractionPayload {
	out := p
	out.Balances = make([]MonthlyBalance, len(p.Balances))
	for i, b := range p.Balances {
		out.Balances[i] = b.clone()
	}
	return out
}

func (b MonthlyBalance) clone() MonthlyBalance {
	out := b
	if b.VerifiedAt != nil {
		t := *b.VerifiedAt
		out.VerifiedAt = &t
	}
	if b.Highlight != nil {
		r := *b.Highlight
		out.Highlight = &r
	}
	return out
}

// Mismatch describes one failed validation check.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Message  string `json:"message"`
}

// ValidationStatus is replaced wholesale every time a record is validated.
type ValidationStatus struct {
	Validated   bool       `json:"validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ValidatedBy string     `json:"validated_by,omitempty"`
	Mismatches  []Mismatch `json:"mismatches"`
}

// Workflow is the review state of a record.
type Workflow struct {
	Status   WorkflowStatus `json:"status"`
	Assignee string         `json:"assignee,omitempty"`
}

// StatementRecord is the canonical per-(bank, month, year, kind) record.
type StatementRecord struct {
	ID        string            `json:"id"`
	Key       RecordKey         `json:"key"`
	CompanyID string            `json:"company_id,omitempty"`
	CycleID   string            `json:"cycle_id,omitempty"`
	Document  DocumentRef       `json:"document"`
	Payload   ExtractionPayload `json:"payload"`

	Validation ValidationStatus `json:"validation"`
	Workflow   Workflow         `json:"workflow"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *StatementRecord) Clone() *StatementRecord {
	out := *r
	out.Payload = r.Payload.Clone()
	if r.Validation.Mismatches != nil {
		out.Validation.Mismatches = append([]Mismatch(nil), r.Validation.Mismatches...)
	}
	if r.Validation.ValidatedAt != nil {
		t := *r.Validation.ValidatedAt
		out.Validation.ValidatedAt = &t
	}
	return &out
}

// BalanceFor returns the index of the balance for the given month, or -1.
func (r *StatementRecord) BalanceFor(month, year int) int {
	for i, b := range r.Payload.Balances {
		if b.SameMonth(month, year) {
			return i
		}
	}
	return -1
}

// ResetReview clears validation and puts the record back into the pending workflow.
func (r *StatementRecord) ResetReview() {
	r.Validation = ValidationStatus{}
	r.Workflow.Status = WorkflowPending
}
