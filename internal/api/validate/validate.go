package validate

import (
	"regexp"
	"strconv"
	"strings"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func MinInt(field string, v, min int64) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.FormatInt(min, 10)}
	}
	return nil
}

var msisdnRe = regexp.MustCompile(`^254[17]\d{8}$`)

// Phone checks a Kenyan MSISDN after normalization.
func Phone(field, value string) *ErrField {
	if !msisdnRe.MatchString(value) {
		return &ErrField{Field: field, Msg: "must be a 2547XXXXXXXX / 2541XXXXXXXX number"}
	}
	return nil
}

// NormalizePhone rewrites 07XX/01XX/+254 forms to the canonical 254 form.
func NormalizePhone(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "+")
	if strings.HasPrefix(v, "0") && len(v) == 10 {
		return "254" + v[1:]
	}
	return v
}

func OneOf(field, value string, allowed ...string) *ErrField {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ErrField{Field: field, Msg: "must be one of " + strings.Join(allowed, "|")}
}
