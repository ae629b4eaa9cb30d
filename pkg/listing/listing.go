// Package listing defines the records that flow through an extraction batch:
// validated tasks, typed failures and the extracted listing fields.
package listing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NotAvailable is the sentinel for missing text values.
const NotAvailable = "N/A"

// FailureKind classifies why a record carries no usable data.
type FailureKind string

const (
	FailureInvalidInput       FailureKind = "invalid-input"
	FailureSessionStartup     FailureKind = "session-startup-error"
	FailureNavigationTimeout  FailureKind = "navigation-timeout"
	FailureSessionRuntime     FailureKind = "session-runtime-error"
	FailureNoContent          FailureKind = "no-content-found"
	FailureOracleCall         FailureKind = "oracle-call-failed"
	FailureOracleResponse     FailureKind = "oracle-response-invalid"
	FailureIncomplete         FailureKind = "incomplete-result"
	FailureCriticalProcessing FailureKind = "critical-processing-error"
)

// Failure is a user-facing failure carried inside a record.
type Failure struct {
	Kind    FailureKind `json:"kind" yaml:"kind"`
	Message string      `json:"message" yaml:"message"`
}

func (f *Failure) String() string {
	if f == nil {
		return ""
	}
	return f.Message
}

// Fail is shorthand for a failure of the given kind.
func Fail(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Number is a numeric listing field. Values the oracle returned that do not
// parse as numbers are kept verbatim in Text.
type Number struct {
	Value float64
	Text  string
}

// Num returns a numeric value.
func Num(v float64) *Number {
	return &Number{Value: v}
}

func (n Number) String() string {
	if n.Text != "" {
		return n.Text
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if n.Text != "" {
		return json.Marshal(n.Text)
	}
	return json.Marshal(n.Value)
}

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = toNumber(v)
	return nil
}

func (n Number) MarshalYAML() (any, error) {
	if n.Text != "" {
		return n.Text, nil
	}
	return n.Value, nil
}

// toNumber converts a decoded JSON value. Numeric strings such as "450,000"
// become numbers; anything else is kept as text.
func toNumber(v any) Number {
	switch x := v.(type) {
	case nil:
		return Number{}
	case float64:
		return Number{Value: x}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number{Value: f}
		}
		return Number{Text: x.String()}
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Number{Value: f}
		}
		return Number{Text: strings.TrimSpace(x)}
	default:
		return Number{Text: fmt.Sprint(x)}
	}
}

func toText(v any) string {
	switch x := v.(type) {
	case nil:
		return NotAvailable
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// Record is one extraction result. A record either has no failure and
// carries the oracle fields, or has a failure and only URL and timing are
// meaningful.
type Record struct {
	URL                   string   `json:"url" yaml:"url"`
	ListingTitle          string   `json:"listing_title,omitempty" yaml:"listing_title,omitempty"`
	ProjectName           string   `json:"project_name,omitempty" yaml:"project_name,omitempty"`
	Price                 *Number  `json:"price,omitempty" yaml:"price,omitempty"`
	Area                  string   `json:"area,omitempty" yaml:"area,omitempty"`
	State                 string   `json:"state,omitempty" yaml:"state,omitempty"`
	SqFt                  *Number  `json:"sq_ft,omitempty" yaml:"sq_ft,omitempty"`
	Bedrooms              *Number  `json:"bedrooms,omitempty" yaml:"bedrooms,omitempty"`
	Bathrooms             *Number  `json:"bathrooms,omitempty" yaml:"bathrooms,omitempty"`
	PhoneNumber           string   `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	Description           string   `json:"description,omitempty" yaml:"description,omitempty"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds" yaml:"processing_time_seconds"`
	Failure               *Failure `json:"failure,omitempty" yaml:"failure,omitempty"`

	present map[string]bool
}

// Field names as the oracle returns them.
const (
	FieldURL          = "url"
	FieldListingTitle = "listing_title"
	FieldProjectName  = "project_name"
	FieldPrice        = "price"
	FieldArea         = "area"
	FieldState        = "state"
	FieldSqFt         = "sq_ft"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldPhoneNumber  = "phone_number"
	FieldDescription  = "description"
	FieldTime         = "processing_time_seconds"
	FieldError        = "error"
)

// TextFields are the oracle fields that hold text, "N/A" when missing.
var TextFields = []string{FieldListingTitle, FieldProjectName, FieldArea, FieldState, FieldPhoneNumber, FieldDescription}

// NumberFields are the oracle fields that hold integers, 0 when missing.
var NumberFields = []string{FieldPrice, FieldSqFt, FieldBedrooms, FieldBathrooms}

// OracleFields lists the fields the oracle is asked for, in prompt order.
var OracleFields = []string{
	FieldListingTitle, FieldProjectName, FieldArea, FieldState,
	FieldPrice, FieldSqFt, FieldBedrooms, FieldBathrooms,
	FieldPhoneNumber, FieldDescription,
}

// Columns is the success table and CSV column order.
var Columns = []string{
	FieldURL, FieldListingTitle, FieldProjectName, FieldPrice, FieldArea, FieldState,
	FieldSqFt, FieldBedrooms, FieldBathrooms, FieldPhoneNumber, FieldDescription,
	FieldTime, FieldError,
}

// FailureColumns is the failure view column order.
var FailureColumns = []string{FieldURL, FieldError, FieldTime}

// Failed reports whether the record carries a failure.
func (r *Record) Failed() bool {
	return r.Failure != nil
}

// Apply copies the known oracle fields into the record and remembers which
// keys were present. Unknown keys are ignored. A "url" key never overrides
// the record URL. Fields the oracle left out get their sentinel: "N/A" for
// text, 0 for numbers.
func (r *Record) Apply(fields map[string]any) {
	if r.present == nil {
		r.present = make(map[string]bool, len(fields))
	}
	for k, v := range fields {
		if r.set(k, v) {
			r.present[k] = true
		}
	}
	for _, k := range TextFields {
		if !r.present[k] {
			r.set(k, NotAvailable)
		}
	}
	for _, k := range NumberFields {
		if !r.present[k] {
			r.set(k, float64(0))
		}
	}
}

// set stores one oracle field and reports whether the key is known.
func (r *Record) set(k string, v any) bool {
	switch k {
	case FieldListingTitle:
		r.ListingTitle = toText(v)
	case FieldProjectName:
		r.ProjectName = toText(v)
	case FieldArea:
		r.Area = toText(v)
	case FieldState:
		r.State = toText(v)
	case FieldPhoneNumber:
		r.PhoneNumber = toText(v)
	case FieldDescription:
		r.Description = toText(v)
	case FieldPrice:
		r.Price = ptr(toNumber(v))
	case FieldSqFt:
		r.SqFt = ptr(toNumber(v))
	case FieldBedrooms:
		r.Bedrooms = ptr(toNumber(v))
	case FieldBathrooms:
		r.Bathrooms = ptr(toNumber(v))
	default:
		return false
	}
	return true
}

func ptr(n Number) *Number {
	return &n
}

// Has reports whether Apply saw the field.
func (r *Record) Has(field string) bool {
	return r.present[field]
}

// HasCoreFields reports whether both listing_title and price were returned.
// Sentinel values count as returned.
func (r *Record) HasCoreFields() bool {
	return r.Has(FieldListingTitle) && r.Has(FieldPrice)
}

// Value returns the display value of a column, empty when unset.
func (r *Record) Value(column string) string {
	switch column {
	case FieldURL:
		return r.URL
	case FieldListingTitle:
		return r.ListingTitle
	case FieldProjectName:
		return r.ProjectName
	case FieldArea:
		return r.Area
	case FieldState:
		return r.State
	case FieldPhoneNumber:
		return r.PhoneNumber
	case FieldDescription:
		return r.Description
	case FieldPrice:
		return numberString(r.Price)
	case FieldSqFt:
		return numberString(r.SqFt)
	case FieldBedrooms:
		return numberString(r.Bedrooms)
	case FieldBathrooms:
		return numberString(r.Bathrooms)
	case FieldTime:
		return strconv.FormatFloat(r.ProcessingTimeSeconds, 'f', 2, 64)
	case FieldError:
		return r.Failure.String()
	}
	return ""
}

func numberString(n *Number) string {
	if n == nil {
		return ""
	}
	return n.String()
}

// Row renders the given columns, with "N/A" for empty cells.
func (r *Record) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		v := r.Value(c)
		if v == "" {
			v = NotAvailable
		}
		row[i] = v
	}
	return row
}
