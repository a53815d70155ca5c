package errors

import (
	"sort"
	"strings"
)

const (
	MsgFieldRequired = "This field is required."
	MsgFieldBlank    = "This field may not be blank."
)

// FieldErrors aggregates validation failures keyed by field name. It is
// always a validation error.
type FieldErrors struct {
	fields map[string][]string
}

func NewFieldErrors() *FieldErrors {
	return &FieldErrors{fields: map[string][]string{}}
}

func (f *FieldErrors) Add(field, message string) {
	f.fields[field] = append(f.fields[field], message)
}

func (f *FieldErrors) Has(field string) bool {
	_, ok := f.fields[field]
	return ok
}

func (f *FieldErrors) Empty() bool {
	return len(f.fields) == 0
}

// Fields returns the failing field names in stable order.
func (f *FieldErrors) Fields() []string {
	keys := make([]string, 0, len(f.fields))
	for k := range f.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Messages returns a copy of the per-field messages.
func (f *FieldErrors) Messages() map[string][]string {
	out := make(map[string][]string, len(f.fields))
	for k, v := range f.fields {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (f *FieldErrors) Error() string {
	parts := make([]string, 0, len(f.fields))
	for _, field := range f.Fields() {
		parts = append(parts, field+": "+strings.Join(f.fields[field], " "))
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

func (f *FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

// OrNil returns f as an error when it holds at least one failure.
func (f *FieldErrors) OrNil() error {
	if f == nil || f.Empty() {
		return nil
	}
	return f
}
