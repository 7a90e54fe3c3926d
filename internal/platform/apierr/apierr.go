package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Stable machine codes surfaced to callers. Handlers map these onto the
// response envelope; codes never change once shipped.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeBlockedFile      = "BLOCKED_FILE"
	CodeMalwareDetected  = "MALWARE_DETECTED"
	CodeNotARulebook     = "NOT_A_RULEBOOK"
	CodeParsingFailure   = "PARSING_FAILURE"
	CodeProviderFailure  = "PROVIDER_TRANSIENT"
	CodeIndexMismatch    = "INDEX_VERIFICATION_MISMATCH"
	CodeRateLimited      = "RATE_LIMITED"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeVerdictFailed    = "VERDICT_FAILED"
	CodeRetrievalFailed  = "RETRIEVAL_FAILED"
	CodeInternal         = "INTERNAL"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidFileType  = "INVALID_FILE_TYPE"
	CodeTooManyPages     = "TOO_MANY_PAGES"
	CodeStalledJob       = "STALLED"
	CodeProviderDisabled = "PROVIDER_DISABLED"
)

type Error struct {
	Status int
	Code   string
	Err    error

	// RetryAfter is set only on RATE_LIMITED errors so the handler can emit
	// a Retry-After hint.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(err error) *Error {
	return New(http.StatusBadRequest, CodeValidation, err)
}

// Security covers blocklist hits and malware detections. Permanent for the
// file; the hash stays blocked.
func Security(code string, err error) *Error {
	return New(http.StatusUnprocessableEntity, code, err)
}

func Relevance(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeNotARulebook, err)
}

func Parsing(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeParsingFailure, err)
}

func ProviderTransient(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeProviderFailure, err)
}

func IndexMismatch(err error) *Error {
	return New(http.StatusInternalServerError, CodeIndexMismatch, err)
}

func RateLimited(retryAfter time.Duration) *Error {
	e := New(http.StatusTooManyRequests, CodeRateLimited, fmt.Errorf("rate limit exceeded"))
	e.RetryAfter = retryAfter
	return e
}

func SessionExpired(err error) *Error {
	return New(http.StatusUnauthorized, CodeSessionExpired, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

// RetrievalFailed means every retrieval leg failed; there is nothing left to
// degrade to.
func RetrievalFailed(err error) *Error {
	return New(http.StatusBadGateway, CodeRetrievalFailed, err)
}

// VerdictFailed means the generator gave up after retries. The caller gets
// this instead of a fabricated answer.
func VerdictFailed(err error) *Error {
	return New(http.StatusBadGateway, CodeVerdictFailed, err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// From pulls the typed error out of a wrap chain, or wraps unknown errors as
// INTERNAL so handlers never leak raw detail.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

func CodeOf(err error) string {
	ae := From(err)
	if ae == nil {
		return ""
	}
	return ae.Code
}
