// Package planerr defines the error taxonomy shared by every stage of plan
// generation and its mapping onto HTTP responses.
package planerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConfig
	KindTransient
	KindParse
	KindPermanent
	KindConflict
	KindPersistence
	KindUnauthenticated
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindConfig:
		return "ConfigError"
	case KindTransient:
		return "TransientServiceError"
	case KindParse:
		return "ParseError"
	case KindPermanent:
		return "PermanentServiceError"
	case KindConflict:
		return "ConflictError"
	case KindPersistence:
		return "PersistenceError"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindNotFound:
		return "NotFound"
	default:
		return "InternalError"
	}
}

// HTTPStatus is the response status for a failure of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable error code sent to clients.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "invalid_onboarding_data"
	case KindConfig:
		return "ai_configuration_error"
	case KindTransient:
		return "ai_service_unavailable"
	case KindParse, KindPermanent:
		return "plan_generation_failed"
	case KindConflict:
		return "active_plan_exists"
	case KindPersistence:
		return "plan_persistence_failed"
	case KindUnauthenticated:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// PublicMessage is the client-facing message for a kind. It never carries
// provider or storage details.
func (k Kind) PublicMessage() string {
	switch k {
	case KindValidation:
		return "Incomplete onboarding data"
	case KindConfig:
		return "AI service configuration error"
	case KindTransient:
		return "AI service temporarily unavailable"
	case KindParse, KindPermanent:
		return "Failed to generate plan. Please try again."
	case KindConflict:
		return "Active plan already exists"
	case KindPersistence:
		return "Failed to save plan"
	case KindUnauthenticated:
		return "Unauthorized"
	case KindNotFound:
		return "Not found"
	default:
		return "Internal server error"
	}
}

type Stage string

const (
	StageValidate     Stage = "validate"
	StageBuildContext Stage = "build_context"
	StageCompose      Stage = "compose"
	StageGenerate     Stage = "generate"
	StageParse        Stage = "parse_validate"
	StagePersist      Stage = "persist"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	// Path locates the offending element for parse failures.
	Path string
	// Fields lists every missing or malformed input field for validation failures.
	Fields []string
	// PlanID is the already-active plan for conflicts.
	PlanID string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports every missing or malformed input field at once.
func Validation(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func Config(msg string, err error) *Error {
	return Wrap(KindConfig, msg, err)
}

func Transient(msg string, err error) *Error {
	return Wrap(KindTransient, msg, err)
}

// Parse reports an unusable model response. path is empty when no
// structured payload could be located at all.
func Parse(msg, path string) *Error {
	return &Error{Kind: KindParse, Message: msg, Path: path}
}

func Permanent(msg string, err error) *Error {
	return Wrap(KindPermanent, msg, err)
}

func Conflict(planID string) *Error {
	return &Error{Kind: KindConflict, Message: "active plan already exists", PlanID: planID}
}

func Persistence(msg string, err error) *Error {
	return Wrap(KindPersistence, msg, err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf classifies any error. A bare deadline or cancellation counts as a
// transient service failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithStage tags err with the stage it originated from. Errors already carrying
// a stage keep it; unclassified errors are classified first.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	if pe, ok := As(err); ok {
		if pe.Stage != "" {
			return err
		}
		cp := *pe
		cp.Stage = stage
		return &cp
	}
	return &Error{Kind: KindOf(err), Stage: stage, Message: "stage failed", Err: err}
}
