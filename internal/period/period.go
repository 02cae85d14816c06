package period

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

// YearMonth is a single calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.index() < other.index()
}

// Next returns the following calendar month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == 12 {
		return YearMonth{Year: ym.Year + 1, Month: 1}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}

func (ym YearMonth) valid() bool {
	return ym.Month >= 1 && ym.Month <= 12 && ym.Year > 0
}

// Span is an inclusive range of calendar months.
type Span struct {
	StartMonth int `json:"start_month"`
	StartYear  int `json:"start_year"`
	EndMonth   int `json:"end_month"`
	EndYear    int `json:"end_year"`
}

// NewSpan builds a span from two months. An end earlier than the start is swapped.
func NewSpan(start, end YearMonth) (Span, error) {
	if !start.valid() || !end.valid() {
		return Span{}, fmt.Errorf("invalid span %s..%s", start, end)
	}
	if end.Before(start) {
		start, end = end, start
	}
	return Span{
		StartMonth: start.Month,
		StartYear:  start.Year,
		EndMonth:   end.Month,
		EndYear:    end.Year,
	}, nil
}

// Single returns the one-month span for month/year.
func Single(month, year int) Span {
	return Span{StartMonth: month, StartYear: year, EndMonth: month, EndYear: year}
}

func (s Span) Start() YearMonth { return YearMonth{Year: s.StartYear, Month: s.StartMonth} }
func (s Span) End() YearMonth   { return YearMonth{Year: s.EndYear, Month: s.EndMonth} }

func (s Span) String() string {
	return s.Start().String() + ".." + s.End().String()
}

// Canonical renders the span in the DD/MM/YYYY - DD/MM/YYYY form, covering
// the first day of the start month to the last day of the end month.
func (s Span) Canonical() string {
	first := time.Date(s.StartYear, time.Month(s.StartMonth), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(s.EndYear, time.Month(s.EndMonth)+1, 0, 0, 0, 0, 0, time.UTC)
	return first.Format("02/01/2006") + " - " + last.Format("02/01/2006")
}

// monthName matches English month names and their usual abbreviations. Any
// other word next to a year ("through 2024", "period 2024") is not a date.
const monthName = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?` +
	`|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

// dateToken finds date-like substrings. Alternatives are ordered so that a
// full date wins over the month-year form at the same position.
var dateToken = regexp.MustCompile(`(?i)\b(?:` +
	`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}` +
	`|\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}` +
	`|\d{1,2}(?:st|nd|rd|th)?[\s\-/]+` + monthName + `\.?[\s\-/,]+\d{2,4}` +
	`|` + monthName + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|` + monthName + `\.?[\s\-/,]+\d{4}` +
	`)\b`)

var (
	isoLayouts = []string{"2006/1/2"}

	// day-first layouts come before month-first ones
	numericLayouts = []string{"2/1/2006", "2/1/06", "1/2/2006", "1/2/06"}

	namedLayouts = []string{
		"2 January 2006", "2 Jan 2006", "2 January 06", "2 Jan 06",
		"January 2 2006", "Jan 2 2006",
		"January 2006", "Jan 2006",
	}

	ordinalSuffix = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	separators    = regexp.MustCompile(`[\s\-/,.]+`)
	numericSep    = regexp.MustCompile(`[-.]`)
)

// Parse turns free-text statement period into a month span. The first date
// found is the start and the last is the end; a single date gives a one-month span.
func Parse(text string) (Span, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Span{}, &domain.ParseError{Input: text, Reason: "empty period text"}
	}

	var found []YearMonth
	for _, tok := range dateToken.FindAllString(trimmed, -1) {
		ym, err := parseToken(tok)
		if err != nil {
			continue
		}
		found = append(found, ym)
	}

	if len(found) == 0 {
		return Span{}, &domain.ParseError{Input: text, Reason: "no recognizable dates"}
	}

	span, err := NewSpan(found[0], found[len(found)-1])
	if err != nil {
		return Span{}, &domain.ParseError{Input: text, Reason: err.Error()}
	}
	return span, nil
}

func parseToken(tok string) (YearMonth, error) {
	tok = strings.TrimSpace(tok)

	switch {
	case startsWithYear(tok):
		return parseWithLayouts(numericSep.ReplaceAllString(tok, "/"), isoLayouts)
	case tok[0] >= '0' && tok[0] <= '9' && !containsLetter(tok):
		return parseWithLayouts(numericSep.ReplaceAllString(tok, "/"), numericLayouts)
	default:
		s := ordinalSuffix.ReplaceAllString(tok, "$1")
		s = separators.ReplaceAllString(s, " ")
		s = replaceWord(s, "sept", "Sep")
		return parseWithLayouts(strings.TrimSpace(s), namedLayouts)
	}
}

func parseWithLayouts(s string, layouts []string) (YearMonth, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return YearMonth{Year: t.Year(), Month: int(t.Month())}, nil
		}
	}
	return YearMonth{}, fmt.Errorf("could not parse date: %s", s)
}

func startsWithYear(s string) bool {
	if len(s) < 5 {
		return false
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[4] == '-' || s[4] == '/' || s[4] == '.'
}

func containsLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func replaceWord(s, word, with string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if strings.EqualFold(f, word) {
			fields[i] = with
		}
	}
	return strings.Join(fields, " ")
}
