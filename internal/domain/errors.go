package domain

import (
	"context"
	"errors"
	"fmt"
)

// Severity ranks how far a collection failure reaches.
type Severity int

const (
	// SeverityWarning skips a single article.
	SeverityWarning Severity = iota + 1
	// SeverityError abandons the current source.
	SeverityError
	// SeverityCritical fails the whole job.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CollectionError carries a severity tag and the context it was raised in.
type CollectionError struct {
	Severity  Severity
	Source    string
	ArticleID string
	Message   string
	Err       error
}

func (e *CollectionError) Error() string {
	prefix := e.Severity.String()
	if e.Source != "" {
		prefix += " [" + e.Source + "]"
	}
	if e.ArticleID != "" {
		prefix += " article " + e.ArticleID
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Warning tags a single-article failure.
func Warning(source, articleID, message string, err error) error {
	return &CollectionError{Severity: SeverityWarning, Source: source, ArticleID: articleID, Message: message, Err: err}
}

// SourceError tags a failure that abandons one source.
func SourceError(source, message string, err error) error {
	return &CollectionError{Severity: SeverityError, Source: source, Message: message, Err: err}
}

// Critical tags a failure that ends the job.
func Critical(source, message string, err error) error {
	return &CollectionError{Severity: SeverityCritical, Source: source, Message: message, Err: err}
}

// SeverityOf classifies any error. Cancellation is terminal; untagged errors,
// including deadlines such as an HTTP client timeout, are treated as
// source-level. An expired job deadline must be tagged Critical by the caller.
func SeverityOf(err error) Severity {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return SeverityCritical
	}
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Severity
	}
	return SeverityError
}

// ArticleIDOf returns the article id carried by a tagged error, if any.
func ArticleIDOf(err error) string {
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.ArticleID
	}
	return ""
}
