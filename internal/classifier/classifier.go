package classifier

import (
	"regexp"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/period"
)

// Reason names the rule that decided a classification.
type Reason string

const (
	ReasonExplicit Reason = "explicit_kind"
	ReasonBalances Reason = "multiple_balances"
	ReasonSpan     Reason = "multi_month_period"
	ReasonKeyword  Reason = "period_keyword"
	ReasonDefault  Reason = "default_monthly"
)

// Input is what the classifier looks at.
type Input struct {
	// ExplicitKind, when set, wins over every structural signal.
	ExplicitKind domain.StatementKind
	Balances     []domain.MonthlyBalance
	PeriodText   string
}

// FromPayload builds an Input from an extraction payload.
func FromPayload(p *domain.ExtractionPayload, explicit domain.StatementKind) Input {
	return Input{ExplicitKind: explicit, Balances: p.Balances, PeriodText: p.PeriodText}
}

// Result is the classification decision.
type Result struct {
	Kind   domain.StatementKind `json:"kind"`
	Reason Reason               `json:"reason"`

	// Span is set when the period text parsed.
	Span *period.Span `json:"span,omitempty"`

	// Ambiguous means no rule had enough signal and the default was used.
	Ambiguous bool `json:"ambiguous"`

	// Conflict means an explicit kind disagrees with the structure of the data.
	// The explicit kind is still returned.
	Conflict bool `json:"conflict"`
}

var rangeKeyword = regexp.MustCompile(`(?i)\b(?:quarter(?:ly)?|q[1-4])\b`)

// Classify decides between monthly and range. Rules are applied in order and
// the first that fires wins:
//  1. explicit kind
//  2. more than one balance
//  3. parsed period spanning more than one month
//  4. quarter keywords in the period text
//  5. monthly
func Classify(in Input) Result {
	var span *period.Span
	if s, err := period.Parse(in.PeriodText); err == nil {
		span = &s
	}

	if in.ExplicitKind.Valid() {
		return Result{
			Kind:     in.ExplicitKind,
			Reason:   ReasonExplicit,
			Span:     span,
			Conflict: in.ExplicitKind != inferredKind(in),
		}
	}

	if len(in.Balances) > 1 {
		return Result{Kind: domain.KindRange, Reason: ReasonBalances, Span: span}
	}

	if span != nil && span.MonthCount() > 1 {
		return Result{Kind: domain.KindRange, Reason: ReasonSpan, Span: span}
	}

	if rangeKeyword.MatchString(in.PeriodText) {
		return Result{Kind: domain.KindRange, Reason: ReasonKeyword, Span: span}
	}

	return Result{
		Kind:      domain.KindMonthly,
		Reason:    ReasonDefault,
		Span:      span,
		Ambiguous: span == nil,
	}
}

// inferredKind is the kind the remaining rules would pick without the explicit label.
func inferredKind(in Input) domain.StatementKind {
	in.ExplicitKind = ""
	return Classify(in).Kind
}
