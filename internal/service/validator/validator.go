// internal/service/validator/validator.go
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/batch"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

var (
	ghanaPhonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^0[2-9]\d{8}$`),
		regexp.MustCompile(`^\+233[2-9]\d{8}$`),
		regexp.MustCompile(`^233[2-9]\d{8}$`),
		regexp.MustCompile(`^[2-9]\d{8}$`),
	}
	intlPhonePattern = regexp.MustCompile(`^\+\d{10,15}$`)
	phoneStrip       = regexp.MustCompile(`[^\d+]`)
	amountStrip      = regexp.MustCompile(`[^\d.,-]`)
	decimalComma     = regexp.MustCompile(`^\d+,\d{1,2}$`)
)

var columnSeparators = strings.NewReplacer(" ", "_", "-", "_")

var fieldAliases = map[string]string{
	"name":           "name",
	"full_name":      "name",
	"customer_name":  "name",
	"account_number": "account_number",
	"account_no":     "account_number",
	"accountnumber":  "account_number",
	"account":        "account_number",
	"acct_no":        "account_number",
	"phone":          "phone",
	"phone_number":   "phone",
	"phonenumber":    "phone",
	"mobile":         "phone",
	"msisdn":         "phone",
	"arrears":        "arrears",
	"amount":         "arrears",
	"balance":        "arrears",
	"reason":         "reason",
	"note":           "reason",
	"action":         "action",
}

// row carries the trimmed string fields checked by struct tags.
type row struct {
	Name          string `field:"name" validate:"required,min=2,max=255"`
	AccountNumber string `field:"account_number" validate:"required,max=64"`
	Phone         string `field:"phone" validate:"required,phone"`
	Reason        string `field:"reason" validate:"max=500"`
}

// Validator turns raw rows into records. It never touches storage and is
// safe for concurrent use.
type Validator struct {
	v *govalidator.Validate
}

func New() *Validator {
	v := govalidator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("field")
	})
	_ = v.RegisterValidation("phone", func(fl govalidator.FieldLevel) bool {
		_, ok := NormalizePhone(fl.Field().String())
		return ok
	})
	return &Validator{v: v}
}

// Validate checks one raw row. Exactly one of the results is non-nil.
func (val *Validator) Validate(raw batch.RawRow, rowIndex int) (*batch.Record, *batch.Rejection) {
	fields := canonical(raw)
	verr := xerrors.NewValidationError()

	r := row{
		Name:          collapseSpaces(fields["name"]),
		AccountNumber: NormalizeAccountNumber(fields["account_number"]),
		Phone:         fields["phone"],
		Reason:        strings.TrimSpace(fields["reason"]),
	}

	if err := val.v.Struct(r); err != nil {
		var ves govalidator.ValidationErrors
		if !errors.As(err, &ves) {
			verr.Add("row", err.Error())
		}
		for _, fe := range ves {
			verr.Add(fe.Field(), message(fe))
		}
	}

	arrears, err := NormalizeAmount(fields["arrears"])
	if err != nil {
		verr.Add("arrears", err.Error())
	}

	kind, err := rowAction(fields["action"], r.Reason)
	if err != nil {
		verr.Add("action", err.Error())
	}

	if verr.HasErrors() {
		return nil, &batch.Rejection{RowIndex: rowIndex, Errors: verr.Fields}
	}

	phone, _ := NormalizePhone(r.Phone)
	return &batch.Record{
		RowIndex:      rowIndex,
		Name:          r.Name,
		AccountNumber: r.AccountNumber,
		Phone:         phone,
		Arrears:       arrears,
		Reason:        r.Reason,
		Action:        kind,
	}, nil
}

// NormalizeAccountNumber uppercases and drops all whitespace.
func NormalizeAccountNumber(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// NormalizePhone strips formatting and returns the local 0XXXXXXXXX form for
// Ghanaian numbers. Other international numbers are kept as +<digits>.
func NormalizePhone(raw string) (string, bool) {
	cleaned := phoneStrip.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return "", false
	}
	for _, p := range ghanaPhonePatterns {
		if !p.MatchString(cleaned) {
			continue
		}
		switch {
		case strings.HasPrefix(cleaned, "+233"):
			return "0" + cleaned[4:], true
		case strings.HasPrefix(cleaned, "233"):
			return "0" + cleaned[3:], true
		case len(cleaned) == 9:
			return "0" + cleaned, true
		}
		return cleaned, true
	}
	if intlPhonePattern.MatchString(cleaned) {
		return cleaned, true
	}
	return "", false
}

// NormalizeAmount parses a monetary string into a non-negative value with
// two decimal places. Blank input is zero.
func NormalizeAmount(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "0.00", nil
	}
	cleaned := amountStrip.ReplaceAllString(trimmed, "")
	if cleaned == "" {
		return "", fmt.Errorf("invalid amount format, use 123.45")
	}
	if strings.Contains(cleaned, "-") {
		return "", fmt.Errorf("must not be negative")
	}
	if decimalComma.MatchString(cleaned) {
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid amount format, use 123.45")
	}
	if !d.Equal(d.Round(2)) {
		return "", fmt.Errorf("must have at most 2 decimal places")
	}
	return d.StringFixed(2), nil
}

func rowAction(explicit, reason string) (action.Kind, error) {
	if strings.TrimSpace(explicit) != "" {
		kind, ok := action.ParseKind(explicit)
		if !ok || !kind.ChangesStatus() {
			return "", fmt.Errorf("must be one of connect, disconnect, warn")
		}
		return kind, nil
	}
	if kind, ok := action.ParseKind(reason); ok && kind.ChangesStatus() {
		return kind, nil
	}
	return "", nil
}

// canonical folds aliased headers onto field names. When several non-blank
// columns map to one field, the exact field name wins, then the first alias
// in sorted header order.
func canonical(raw batch.RawRow) map[string]string {
	headers := make([]string, 0, len(raw))
	for k, v := range raw {
		if v != nil {
			headers = append(headers, k)
		}
	}
	slices.Sort(headers)

	out := make(map[string]string, len(headers))
	exact := make(map[string]bool, len(headers))
	for _, k := range headers {
		value := strings.TrimSpace(*raw[k])
		key := CanonicalColumn(k)
		isExact := columnSeparators.Replace(strings.ToLower(strings.TrimSpace(k))) == key
		prev, seen := out[key]
		switch {
		case !seen:
		case value == "":
			continue
		case prev != "" && (exact[key] || !isExact):
			continue
		}
		out[key] = value
		exact[key] = isExact
	}
	return out
}

// CanonicalColumn maps a header such as "Account No" or "Phone-Number" to
// the field name used in rows.
func CanonicalColumn(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	key = columnSeparators.Replace(key)
	if alias, ok := fieldAliases[key]; ok {
		return alias
	}
	return key
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func message(fe govalidator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "phone":
		return "invalid phone number format, use 0XX XXX XXXX"
	}
	return "is invalid"
}
