// Package records defines the flat case record shared by the store and every
// index structure, together with its normalization and validation rules.
package records

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the only accepted date format. Lexicographic order of dates in
// this layout equals chronological order, which the range index relies on.
const DateLayout = "2006-01-02"

// ErrInvalidRecord wraps every validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// CaseType is the kind of count a record carries.
type CaseType string

const (
	Confirmed CaseType = "confirmed"
	Death     CaseType = "death"
	Recovered CaseType = "recovered"
)

// CaseTypes lists the accepted types in descending severity.
var CaseTypes = []CaseType{Death, Confirmed, Recovered}

// Severity returns the priority used by the priority store: death 3,
// confirmed 2, recovered 1. Unknown types rank lowest.
func (t CaseType) Severity() int {
	switch CaseType(strings.ToLower(string(t))) {
	case Death:
		return 3
	case Confirmed:
		return 2
	default:
		return 1
	}
}

// Valid reports whether t is one of the accepted types (case-insensitive).
func (t CaseType) Valid() bool {
	switch CaseType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case Confirmed, Death, Recovered:
		return true
	}
	return false
}

// Record is one accepted line of the backing store. Records are immutable
// once accepted.
type Record struct {
	Country string   `json:"country" validate:"required"`
	Date    string   `json:"date" validate:"required,isodate"`
	Type    CaseType `json:"type" validate:"required,casetype"`
	Cases   int64    `json:"cases" validate:"gte=0"`
}

// Normalize trims country and date and lowercases the type.
func (r Record) Normalize() Record {
	return Record{
		Country: strings.TrimSpace(r.Country),
		Date:    strings.TrimSpace(r.Date),
		Type:    CaseType(strings.ToLower(strings.TrimSpace(string(r.Type)))),
		Cases:   r.Cases,
	}
}

// NaturalKey is lower(country)|date|lower(type), the store-level uniqueness key.
// It returns "" when any component is missing.
func (r Record) NaturalKey() string {
	return BuildKey(r.Country, r.Date, string(r.Type))
}

// BuildKey assembles a natural key from its parts.
func BuildKey(country, date, caseType string) string {
	country = strings.ToLower(strings.TrimSpace(country))
	date = strings.TrimSpace(date)
	caseType = strings.ToLower(strings.TrimSpace(caseType))
	if country == "" || date == "" || caseType == "" {
		return ""
	}
	return country + "|" + date + "|" + caseType
}

// CountryKey is the normalized form the country index and prefix index use.
func CountryKey(country string) string {
	return strings.ToLower(strings.TrimSpace(country))
}

// String renders the record as it appears in the backing store.
func (r Record) String() string {
	return fmt.Sprintf("%s,%s,%s,%d", r.Country, r.Date, r.Type, r.Cases)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			return IsValidDate(fl.Field().String())
		})
		validate.RegisterValidation("casetype", func(fl validator.FieldLevel) bool {
			return CaseType(fl.Field().String()).Valid()
		})
	})
	return validate
}

// IsValidDate accepts strict YYYY-MM-DD dates that exist on the calendar,
// so 2021-02-30 is rejected.
func IsValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(DateLayout) == s
}

// Validate checks a normalized record. Country must be non-empty after
// trimming, so callers should Normalize first.
func Validate(r Record) error {
	if err := recordValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRecord, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
