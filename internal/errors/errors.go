// Package errors provides categorized, context-carrying errors and
// re-exports the standard library helpers so callers import one package.
//
// Errors are assembled with a builder:
//
//	return errors.Newf("partition %q not found", name).
//		Component("cachestore").
//		Category(errors.CategoryStorage).
//		Context("operation", "open").
//		Build()
//
// Built errors are handed to the registered Reporter (telemetry) unless their
// category is CategoryValidation or CategoryNotFound.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Category classifies an error for reporting and metrics.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryNetwork       Category = "network"
	CategoryStorage       Category = "storage"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryNotFound      Category = "not-found"
	CategoryLifecycle     Category = "lifecycle"
)

// EnhancedError is an error annotated with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// String renders the error with its context sorted by key.
func (e *EnhancedError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", e.component, e.category, e.Err.Error())
	for _, k := range slices.Sorted(maps.Keys(e.context)) {
		fmt.Fprintf(&b, " %s=%v", k, e.context[k])
	}
	return b.String()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts a builder wrapping an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: &EnhancedError{
		Err:      err,
		category: CategoryGeneric,
		context:  make(map[string]any),
	}}
}

// Newf starts a builder with a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the producing component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.err.category = c
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build finalizes the error and reports it.
func (b *ErrorBuilder) Build() *EnhancedError {
	e := b.err
	if e.component == "" {
		e.component = "unknown"
	}
	report(e)
	return e
}

// Reporter receives every built error worth reporting.
type Reporter func(e *EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the telemetry hook. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(e *EnhancedError) {
	if e.category == CategoryValidation || e.category == CategoryNotFound {
		return
	}
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(e)
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// NewStd creates a plain error, for sentinels.
func NewStd(text string) error { return stderrors.New(text) }
