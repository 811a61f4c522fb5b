// Package errors provides enhanced error handling for monitord. It is a
// drop-in replacement for the standard errors package that adds component
// tagging, failure categories, and structured context to errors, so
// operators can tell a routine network timeout from a misconfigured rule.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category classifies a failure for propagation policy and operator
// visibility. Network errors are routine; configuration errors are
// surfaced to the rule owner; delivery errors are retried per channel.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryProtocol      Category = "protocol"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryDelivery      Category = "delivery"
	CategoryDatabase      Category = "database"
	CategoryGeneric       Category = "generic"
)

// EnhancedError carries a component name, category, and key/value context
// alongside the wrapped error.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

// Error renders the message with its context sorted for determinism.
func (e *EnhancedError) Error() string {
	msg := e.Err.Error()
	if len(e.context) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.context))
	for k := range e.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(msg)
	b.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, e.context[k])
	}
	b.WriteString(")")
	return b.String()
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the component that produced the error.
func (e *EnhancedError) Component() string { return e.component }

// GetCategory returns the error's category, CategoryGeneric if unset.
func (e *EnhancedError) GetCategory() Category {
	if e.category == "" {
		return CategoryGeneric
	}
	return e.category
}

// GetContext returns a context value by key.
func (e *EnhancedError) GetContext(key string) (any, bool) {
	v, ok := e.context[key]
	return v, ok
}

// Builder assembles an EnhancedError fluently.
type Builder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts building an enhanced error wrapping err.
func New(err error) *Builder {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &Builder{err: err}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Component tags the error with the producing component.
func (b *Builder) Component(name string) *Builder {
	b.component = name
	return b
}

// Category assigns the failure category.
func (b *Builder) Category(c Category) *Builder {
	b.category = c
	return b
}

// Context attaches a key/value pair to the error.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the enhanced error.
func (b *Builder) Build() error {
	return &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
}

// CategoryOf extracts the category from an error chain,
// returning CategoryGeneric for plain errors.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return CategoryGeneric
}

// Standard library passthroughs so callers import a single errors package.

func Is(err, target error) bool  { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func Join(errs ...error) error   { return errors.Join(errs...) }

// NewStd creates a plain sentinel error, for package-level declarations.
func NewStd(text string) error { return errors.New(text) }
