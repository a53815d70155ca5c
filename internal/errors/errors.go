// Package errors defines the error kinds shared by every billing component.
// Domain packages declare their own sentinels and mark them with one of the
// kinds below so transports can map them without knowing the domain.
package errors

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
)

const (
	ErrCodeValidation          = "validation_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeStateConflict       = "state_conflict"
	ErrCodeConfiguration       = "configuration_error"
	ErrCodeInternalComputation = "internal_computation_error"
	ErrCodeConflict            = "conflict"
	ErrCodeSystemError         = "system_error"
)

var (
	ErrValidation          = new(ErrCodeValidation, "validation error")
	ErrNotFound            = new(ErrCodeNotFound, "resource not found")
	ErrStateConflict       = new(ErrCodeStateConflict, "operation not allowed in current state")
	ErrConfiguration       = new(ErrCodeConfiguration, "required configuration missing")
	ErrInternalComputation = new(ErrCodeInternalComputation, "internal computation error")
	ErrConflict            = new(ErrCodeConflict, "concurrent update conflict")
	ErrSystem              = new(ErrCodeSystemError, "system error")

	kinds = []*InternalError{
		ErrValidation,
		ErrNotFound,
		ErrStateConflict,
		ErrConfiguration,
		ErrInternalComputation,
		ErrConflict,
		ErrSystem,
	}

	statusCodeMap = map[string]int{
		ErrCodeValidation:          http.StatusBadRequest,
		ErrCodeNotFound:            http.StatusNotFound,
		ErrCodeStateConflict:       http.StatusForbidden,
		ErrCodeConfiguration:       http.StatusInternalServerError,
		ErrCodeInternalComputation: http.StatusInternalServerError,
		ErrCodeConflict:            http.StatusConflict,
		ErrCodeSystemError:         http.StatusInternalServerError,
	}
)

// InternalError is an error kind. Concrete errors are marked with one.
type InternalError struct {
	Code    string
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func new(code string, message string) *InternalError {
	return &InternalError{Code: code, Message: message}
}

type sentinel struct {
	err  error
	kind *InternalError
}

var (
	sentinelsMu sync.RWMutex
	sentinels   []sentinel
)

// Kind declares a domain sentinel with its own identity and records kind
// for it. Two sentinels of the same kind never match each other in Is.
func Kind(kind *InternalError, msg string) error {
	err := errors.New(msg)
	sentinelsMu.Lock()
	sentinels = append(sentinels, sentinel{err: err, kind: kind})
	sentinelsMu.Unlock()
	return err
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// KindOf returns the kind err was marked with at its raise site, else the
// kind of the sentinel it wraps, else ErrSystem.
func KindOf(err error) *InternalError {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	sentinelsMu.RLock()
	defer sentinelsMu.RUnlock()
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return ErrSystem
}

func IsValidation(err error) bool          { return KindOf(err) == ErrValidation }
func IsNotFound(err error) bool            { return KindOf(err) == ErrNotFound }
func IsStateConflict(err error) bool       { return KindOf(err) == ErrStateConflict }
func IsConfiguration(err error) bool       { return KindOf(err) == ErrConfiguration }
func IsInternalComputation(err error) bool { return KindOf(err) == ErrInternalComputation }
func IsConflict(err error) bool            { return KindOf(err) == ErrConflict }

// HTTPStatusFromErr maps the kind of err to a status code.
func HTTPStatusFromErr(err error) int {
	if status, ok := statusCodeMap[KindOf(err).Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Hints returns the user facing hints attached to err.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
