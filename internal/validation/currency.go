package validation

import "strings"

// currencyAliases maps verbal and abbreviated currency names, already
// uppercased, onto ISO 4217 codes.
var currencyAliases = map[string]string{
	"KES":              "KES",
	"KSH":              "KES",
	"KSHS":             "KES",
	"K.SH":             "KES",
	"K.SHS":            "KES",
	"KSH.":             "KES",
	"KENYA SHILLING":   "KES",
	"KENYA SHILLINGS":  "KES",
	"KENYAN SHILLING":  "KES",
	"KENYAN SHILLINGS": "KES",

	"EUR":   "EUR",
	"EURO":  "EUR",
	"EUROS": "EUR",
	"€":     "EUR",

	"GBP":             "GBP",
	"POUND":           "GBP",
	"POUNDS":          "GBP",
	"STERLING":        "GBP",
	"POUND STERLING":  "GBP",
	"POUNDS STERLING": "GBP",
	"£":               "GBP",

	"USD":          "USD",
	"US$":          "USD",
	"$":            "USD",
	"US DOLLAR":    "USD",
	"US DOLLARS":   "USD",
	"U.S. DOLLAR":  "USD",
	"U.S. DOLLARS": "USD",
	"DOLLAR":       "USD",
	"DOLLARS":      "USD",
}

// NormalizeCurrency maps a currency label onto its ISO code. Unknown labels
// are returned uppercased and trimmed.
func NormalizeCurrency(s string) string {
	key := strings.Join(strings.Fields(strings.ToUpper(s)), " ")
	if code, ok := currencyAliases[key]; ok {
		return code
	}
	return key
}
