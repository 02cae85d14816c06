package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

var (
	accountRun    = regexp.MustCompile(`\d{6,}`)
	passwordToken = regexp.MustCompile(`(?i)(?:^|[_\-\s.(])(?:pw|pwd|pass|password)[_=\-:]([^_\s.()]+)`)
)

// Hints are what a file name says about its statement.
type Hints struct {
	AccountNumbers []string
	Password       string

	// Name is the file name lowercased with everything but letters and digits removed.
	Name string
}

// DetectHints inspects a file name for account numbers, a password and bank name text.
func DetectHints(fileName string) Hints {
	base := fileName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	stem := strings.TrimSuffix(base, ".pdf")
	stem = strings.TrimSuffix(stem, ".PDF")

	h := Hints{Name: alnum(stem)}

	if m := passwordToken.FindStringSubmatch(stem); m != nil {
		h.Password = m[1]
		// keep the password out of the number and name hints
		stem = strings.Replace(stem, m[0], " ", 1)
		h.Name = alnum(stem)
	}

	h.AccountNumbers = accountRun.FindAllString(stem, -1)
	return h
}

// MatchBank picks the account a file most likely belongs to. Account-number
// matches are tried across all accounts before any bank-name match; within a
// pass the first account wins.
func MatchBank(h Hints, accounts []domain.BankAccount) (*domain.BankAccount, Confidence) {
	for i := range accounts {
		acct := digits(accounts[i].AccountNumber)
		if len(acct) < 4 {
			continue
		}
		for _, n := range h.AccountNumbers {
			if strings.Contains(acct, n) || strings.Contains(n, acct) {
				return &accounts[i], ConfidenceHigh
			}
		}
	}

	for i := range accounts {
		name := alnum(accounts[i].BankName)
		if len(name) < 2 {
			continue
		}
		if strings.Contains(h.Name, name) {
			return &accounts[i], ConfidenceLow
		}
	}
	return nil, ConfidenceNone
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
