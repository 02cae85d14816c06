package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// payloadFromModelOutput converts decoded model output into an extraction payload.
func payloadFromModelOutput(raw map[string]interface{}) (domain.ExtractionPayload, error) {
	var p domain.ExtractionPayload
	var err error

	if p.BankName, err = getStringField(raw, "bank_name", false); err != nil {
		return p, fmt.Errorf("payloadFromModelOutput: %w", err)
	}
	if p.AccountNumber, err = getStringField(raw, "account_number", false); err != nil {
		return p, fmt.Errorf("payloadFromModelOutput: %w", err)
	}
	if p.Currency, err = getStringField(raw, "currency", false); err != nil {
		return p, fmt.Errorf("payloadFromModelOutput: %w", err)
	}
	if p.PeriodText, err = getStringField(raw, "period_text", false); err != nil {
		return p, fmt.Errorf("payloadFromModelOutput: %w", err)
	}
	pages, err := getOptionalIntField(raw, "total_pages")
	if err != nil {
		return p, fmt.Errorf("payloadFromModelOutput: %w", err)
	}
	if pages != nil {
		p.TotalPages = *pages
	}

	p.Balances = []domain.MonthlyBalance{}
	balAny, ok := raw["balances"]
	if !ok || balAny == nil {
		return p, nil
	}
	balSlice, ok := balAny.([]interface{})
	if !ok {
		return p, fmt.Errorf("payloadFromModelOutput: 'balances' is %T, want []interface{}", balAny)
	}

	for i, item := range balSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return p, fmt.Errorf("payloadFromModelOutput: balance %d is %T, want map[string]interface{}", i, item)
		}
		b, err := balanceFromModel(obj)
		if err != nil {
			return p, fmt.Errorf("payloadFromModelOutput: balance %d: %w", i, err)
		}
		p.Balances = append(p.Balances, b)
	}

	return p, nil
}

func balanceFromModel(obj map[string]interface{}) (domain.MonthlyBalance, error) {
	var b domain.MonthlyBalance

	month, err := getOptionalIntField(obj, "month")
	if err != nil {
		return b, err
	}
	year, err := getOptionalIntField(obj, "year")
	if err != nil {
		return b, err
	}
	if month == nil || year == nil {
		return b, fmt.Errorf("missing required field month/year")
	}
	if *month < 1 || *month > 12 {
		return b, fmt.Errorf("month %d out of range", *month)
	}
	b.Month, b.Year = *month, *year

	if b.OpeningBalance, err = getDecimalField(obj, "opening_balance"); err != nil {
		return b, err
	}
	if b.ClosingBalance, err = getDecimalField(obj, "closing_balance"); err != nil {
		return b, err
	}

	page, err := getOptionalIntField(obj, "statement_page")
	if err != nil {
		return b, err
	}
	if page != nil {
		b.StatementPage = *page
	}

	closing, err := getOptionalStringField(obj, "closing_date")
	if err != nil {
		return b, err
	}
	if closing != nil && *closing != "" {
		if _, err := time.Parse("2006-01-02", *closing); err != nil {
			return b, fmt.Errorf("invalid closing_date %q: %w", *closing, err)
		}
		b.ClosingDate = *closing
	}

	return b, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return strings.TrimSpace(val), nil
	case json.Number:
		// account numbers sometimes come back unquoted
		return val.String(), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := getStringField(m, key, false)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func getOptionalIntField(m map[string]interface{}, key string) (*int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch val := v.(type) {
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return nil, fmt.Errorf("field %q is not an integer: %s", key, val)
			}
			i = int64(f)
		}
		n = int(i)
	case float64:
		if val != math.Trunc(val) {
			return nil, fmt.Errorf("field %q is not an integer: %v", key, val)
		}
		n = int(val)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("field %q is not an integer: %q", key, val)
		}
		n = i
	default:
		return nil, fmt.Errorf("field %q has type %T, want integer", key, v)
	}
	return &n, nil
}

func getDecimalField(m map[string]interface{}, key string) (decimal.NullDecimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.NullDecimal{}, nil
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("field %q: %w", key, err)
		}
		return decimal.NewNullDecimal(d), nil
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(val)), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		neg := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			neg = true
			s = strings.Trim(s, "()")
		}
		s = strings.NewReplacer(",", "", " ", "").Replace(s)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("field %q: %w", key, err)
		}
		if neg {
			d = d.Neg()
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
