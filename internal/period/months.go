package period

import (
	"iter"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

// MonthCount is the number of calendar months covered by s, inclusive.
func (s Span) MonthCount() int {
	return s.End().index() - s.Start().index() + 1
}

// All yields the months of s in ascending order. The sequence can be ranged
// over any number of times.
func (s Span) All() iter.Seq[YearMonth] {
	return func(yield func(YearMonth) bool) {
		end := s.End()
		for ym := s.Start(); !end.Before(ym); ym = ym.Next() {
			if !yield(ym) {
				return
			}
		}
	}
}

// Months returns the months of s in ascending order.
func (s Span) Months() []YearMonth {
	out := make([]YearMonth, 0, max(s.MonthCount(), 0))
	for ym := range s.All() {
		out = append(out, ym)
	}
	return out
}

// Contains reports whether month/year falls inside s.
func (s Span) Contains(month, year int) bool {
	ym := YearMonth{Year: year, Month: month}
	return !ym.Before(s.Start()) && !s.End().Before(ym)
}

// SpanOf derives the span covered by a set of balances. It returns false when
// no balance carries a valid month.
func SpanOf(balances []domain.MonthlyBalance) (Span, bool) {
	var lo, hi YearMonth
	seen := false
	for _, b := range balances {
		ym := YearMonth{Year: b.Year, Month: b.Month}
		if !ym.valid() {
			continue
		}
		if !seen || ym.Before(lo) {
			lo = ym
		}
		if !seen || hi.Before(ym) {
			hi = ym
		}
		seen = true
	}
	if !seen {
		return Span{}, false
	}
	span, err := NewSpan(lo, hi)
	if err != nil {
		return Span{}, false
	}
	return span, true
}
