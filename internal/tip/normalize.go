package tip

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/callmedenchick/kofirelay/internal/models"
)

const (
	DefaultFromName = "Ko-fi Supporter"

	KindInvalidAmount = "invalid_amount"

	dataKey   = "data"
	amountKey = "amount"
)

// Accepted key names per logical field, in priority order.
var (
	fromAliases  = []string{"from_name", "from"}
	msgAliases   = []string{"message", "note"}
	tokenAliases = []string{"verification_token", "verificationToken", "token"}
)

var ErrInvalidAmount = errors.New("invalid amount")

type NormalizationError struct {
	Kind  string
	Value any
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Value)
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrInvalidAmount && e.Kind == KindInvalidAmount
}

// Normalize converts a raw webhook body into a Tip.
func Normalize(raw models.RawBody) (models.Tip, error) {
	obj, _ := candidate(raw).(map[string]any)

	var amountValue any
	if obj != nil {
		amountValue = obj[amountKey]
	}
	amount, ok := coerceAmount(amountValue)
	if !ok {
		return models.Tip{}, &NormalizationError{Kind: KindInvalidAmount, Value: amountValue}
	}

	return models.Tip{
		Amount:   amount,
		FromName: pick(obj, fromAliases, DefaultFromName),
		Message:  pick(obj, msgAliases, ""),
	}, nil
}

// VerificationToken looks for the token at the top level first and then
// inside the embedded data object, where form-encoded Ko-fi posts carry it.
// Only non-empty strings count as a token.
func VerificationToken(raw models.RawBody) string {
	if t := pickString(raw, tokenAliases); t != "" {
		return t
	}
	if _, nested := raw[dataKey]; !nested {
		return ""
	}
	obj, _ := candidate(raw).(map[string]any)
	return pickString(obj, tokenAliases)
}

// candidate returns the nested data value when present, else the body itself.
// String values are decoded as JSON when possible and kept verbatim otherwise.
func candidate(raw models.RawBody) any {
	var data any = map[string]any(raw)
	if v, ok := raw[dataKey]; ok && v != nil {
		data = v
	}
	s, ok := data.(string)
	if !ok {
		return data
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil || dec.More() {
		return s
	}
	return parsed
}

func coerceAmount(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func pick(obj map[string]any, aliases []string, fallback string) string {
	for _, key := range aliases {
		if s, ok := text(obj[key]); ok {
			return s
		}
	}
	return fallback
}

func pickString(obj map[string]any, aliases []string) string {
	for _, key := range aliases {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// text stringifies a field value, reporting false for empty-ish values so the
// next alias is tried.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case json.Number:
		f, err := t.Float64()
		if err == nil && f == 0 {
			return "", false
		}
		return t.String(), true
	case float64:
		if t == 0 || math.IsNaN(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), t != 0
	default:
		var b bytes.Buffer
		if err := json.NewEncoder(&b).Encode(t); err != nil {
			return "", false
		}
		return strings.TrimSpace(b.String()), true
	}
}
