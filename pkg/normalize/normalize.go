// pkg/normalize/normalize.go
// Package normalize canonicalizes text, numeric, boolean and timestamp
// attribute values without external lookups.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// ErrBlankSource marks an empty raw value; callers map it to the
// SOURCE_RAW_NOT_FOUND reason code.
var ErrBlankSource = errors.New("source value is blank")

// CastError wraps a parse failure; callers map it to INVALID_TYPE_CAST
// and surface the underlying message.
type CastError struct {
	Input string
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %q: %v", e.Input, e.Err)
}

func (e *CastError) Unwrap() error {
	return e.Err
}

// Value is the typed outcome of a normalization.
type Value struct {
	Kind model.DataType
	Text string
	Num  decimal.Decimal
	Date string
	Bool bool
}

// Apply writes the value into the matching value_* field of a row.
func (v *Value) Apply(row *model.AttributeRow) {
	switch v.Kind {
	case model.DataTypeText, model.DataTypeBool:
		row.ValueText.String = v.Text
		row.ValueText.Valid = true
	case model.DataTypeNum:
		row.ValueNum.Decimal = v.Num
		row.ValueNum.Valid = true
	case model.DataTypeTimestampTZ:
		row.ValueDate.String = v.Date
		row.ValueDate.Valid = true
	}
}

// Normalize canonicalizes a raw value according to the attribute's data
// type. datePattern is a PostgreSQL-style pattern used for TIMESTAMPTZ.
func Normalize(dataType model.DataType, raw, datePattern string) (*Value, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrBlankSource
	}

	switch dataType {
	case model.DataTypeText:
		return &Value{Kind: model.DataTypeText, Text: trimmed}, nil
	case model.DataTypeNum:
		num, err := Number(trimmed)
		if err != nil {
			return nil, &CastError{Input: raw, Err: err}
		}
		return &Value{Kind: model.DataTypeNum, Num: num}, nil
	case model.DataTypeTimestampTZ:
		date, err := Timestamp(trimmed, datePattern)
		if err != nil {
			return nil, &CastError{Input: raw, Err: err}
		}
		return &Value{Kind: model.DataTypeTimestampTZ, Date: date}, nil
	case model.DataTypeBool:
		b, err := Boolean(trimmed)
		if err != nil {
			return nil, &CastError{Input: raw, Err: err}
		}
		text := "false"
		if b {
			text = "true"
		}
		return &Value{Kind: model.DataTypeBool, Text: text, Bool: b}, nil
	default:
		return nil, &CastError{Input: raw, Err: fmt.Errorf("unsupported data type %s", dataType)}
	}
}

// currencyRunes are stripped from numeric input before parsing: yen,
// dollar, euro, pound, won, percent marks, and plain/NBSP/ideographic
// spaces seen in retailer feeds.
const currencyRunes = "\u00a5\uffe5$\u20ac\u00a3\u20a9%\uff05 \t\u00a0\u3000"

// Number parses a raw numeric string into an exact decimal. Currency and
// percent symbols are stripped, thousands separators removed and a comma
// decimal separator unified to a point.
func Number(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.Trim(cleaned, currencyRunes)
	if cleaned == "" {
		return decimal.Decimal{}, errors.New("no digits in input")
	}

	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")

	switch {
	case hasDot && hasComma:
		// The separator appearing last is the decimal mark; the other is
		// a thousands separator.
		if strings.LastIndex(cleaned, ".") > strings.LastIndex(cleaned, ",") {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		}
	case hasComma:
		if isThousandsGrouped(cleaned) {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		}
	}

	num, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return num, nil
}

// isThousandsGrouped reports whether every comma in the input sits before
// a group of exactly three digits, e.g. 1,980 or 12,345,678.
func isThousandsGrouped(s string) bool {
	body := strings.TrimLeft(s, "+-")
	groups := strings.Split(body, ",")
	if len(groups) < 2 {
		return false
	}
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
		for _, c := range g {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// Timestamp parses a raw date or date-time string against a
// PostgreSQL-style pattern and renders it as an ISO string:
// date-only values as 2006-01-02, date-times as 2006-01-02T15:04:05Z.
func Timestamp(raw, pattern string) (string, error) {
	if pattern == "" {
		return "", errors.New("no date pattern configured")
	}

	layout := TranslatePattern(pattern)
	withTime := hasTimeTokens(pattern)

	t, err := time.Parse(layout, raw)
	if err != nil && withTime {
		// A date-time pattern may still receive date-only values.
		if t2, err2 := time.Parse(dateOnlyLayout(layout), raw); err2 == nil {
			t, err = t2, nil
			withTime = false
		}
	}
	if err != nil {
		return "", err
	}

	if withTime {
		return t.UTC().Format("2006-01-02T15:04:05Z"), nil
	}
	return t.Format("2006-01-02"), nil
}

// Boolean parses common textual boolean spellings.
func Boolean(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("cannot parse %q as boolean", raw)
	}
}
