// Package models contains data structures used throughout the application
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrSchemaViolation is matched by every *SchemaViolation via errors.Is
var ErrSchemaViolation = errors.New("schema violation")

// SchemaViolation reports the first field of a record that broke its shape
type SchemaViolation struct {
	Entity     string // e.g. "GlucoseEntry"
	Field      string // JSON path of the offending field, e.g. "carbratio[1].value"
	Constraint string // e.g. "gte=20", "clock", "type=int"
	Value      any
}

func (e *SchemaViolation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Constraint)
	}
	return fmt.Sprintf("invalid %s: field %q violates %q (got %v)", e.Entity, e.Field, e.Constraint, e.Value)
}

// Is lets callers match any violation with errors.Is(err, ErrSchemaViolation)
func (e *SchemaViolation) Is(target error) bool {
	return target == ErrSchemaViolation
}

// schemaValidate is shared by every entity constructor in this package.
var schemaValidate *validator.Validate

func init() {
	schemaValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names rather than Go field names
	schemaValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = schemaValidate.RegisterValidation("clock", validateClock)
	_ = schemaValidate.RegisterValidation("clocksec", validateClockSeconds)

	schemaValidate.RegisterStructValidation(scheduleEntryLevel, ScheduleEntry{})
	schemaValidate.RegisterStructValidation(targetEntryLevel, TargetEntry{})
	schemaValidate.RegisterStructValidation(profileStoreLevel, ProfileStore{})
}

// validateClock accepts "HH:MM"
func validateClock(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String(), false)
	return err == nil
}

// validateClockSeconds accepts "HH:MM:SS"
func validateClockSeconds(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String(), true)
	return err == nil
}

func scheduleEntryLevel(sl validator.StructLevel) {
	e := sl.Current().Interface().(ScheduleEntry)
	checkTimeAsSeconds(sl, e.Time, e.TimeAsSeconds)
}

func targetEntryLevel(sl validator.StructLevel) {
	e := sl.Current().Interface().(TargetEntry)
	checkTimeAsSeconds(sl, e.Time, e.TimeAsSeconds)
}

func checkTimeAsSeconds(sl validator.StructLevel, clock string, seconds int) {
	c, err := ParseClock(clock, false)
	if err != nil {
		// already reported by the clock tag
		return
	}
	if c.Seconds() != seconds {
		sl.ReportError(seconds, "timeAsSeconds", "TimeAsSeconds", "matchtime", strconv.Itoa(c.Seconds()))
	}
}

// profileStoreLevel enforces the ratio schedules' strictly positive values,
// which the shared ScheduleEntry shape cannot express on its own.
func profileStoreLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(ProfileStore)
	for i, e := range p.CarbRatio {
		if e.Value <= 0 {
			sl.ReportError(e.Value, fmt.Sprintf("carbratio[%d].value", i), "Value", "gt", "0")
		}
	}
	for i, e := range p.Sens {
		if e.Value <= 0 {
			sl.ReportError(e.Value, fmt.Sprintf("sens[%d].value", i), "Value", "gt", "0")
		}
	}
}

// Validate checks v against its schema and returns a *SchemaViolation for the
// first failing field.
func Validate(entity string, v any) error {
	err := schemaValidate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &SchemaViolation{Entity: entity, Constraint: err.Error()}
	}

	fe := verrs[0]
	constraint := fe.Tag()
	if fe.Param() != "" {
		constraint += "=" + fe.Param()
	}
	return &SchemaViolation{
		Entity:     entity,
		Field:      fieldPath(fe.Namespace()),
		Constraint: constraint,
		Value:      fe.Value(),
	}
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// decode unmarshals raw into a T and validates it
func decode[T any](entity string, raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return v, &SchemaViolation{
				Entity:     entity,
				Field:      typeErr.Field,
				Constraint: "type=" + typeErr.Type.String(),
				Value:      typeErr.Value,
			}
		}
		return v, &SchemaViolation{Entity: entity, Constraint: "json: " + err.Error()}
	}
	if err := Validate(entity, v); err != nil {
		return v, err
	}
	return v, nil
}

// DecodeGlucoseEntry validates a raw Nightscout entry
func DecodeGlucoseEntry(raw []byte) (GlucoseEntry, error) {
	return decode[GlucoseEntry]("GlucoseEntry", raw)
}

// DecodeTreatment validates a raw Nightscout treatment
func DecodeTreatment(raw []byte) (Treatment, error) {
	return decode[Treatment]("Treatment", raw)
}

// DecodeProfileStore validates a single named profile
func DecodeProfileStore(raw []byte) (ProfileStore, error) {
	return decode[ProfileStore]("ProfileStore", raw)
}

// DecodeProfileDocument validates the document envelope. Individual store
// entries are only type-checked here; use ValidateProfile on the entry you
// intend to use so one stale profile does not block the others.
func DecodeProfileDocument(raw []byte) (ProfileDocument, error) {
	return decode[ProfileDocument]("ProfileDocument", raw)
}

// DecodeAutotuneResult validates the autotune output document
func DecodeAutotuneResult(raw []byte) (AutotuneResult, error) {
	return decode[AutotuneResult]("AutotuneResult", raw)
}

// ValidateProfile checks a profile built in memory
func ValidateProfile(p ProfileStore) error {
	return Validate("ProfileStore", p)
}
