package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrRetriesExhausted marks a request whose retryable failures outlasted
	// the attempt budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrPermanent marks a failure that is not worth retrying.
	ErrPermanent = errors.New("permanent request failure")
)

// FetchError describes a failed request. It matches ErrRetriesExhausted or
// ErrPermanent through errors.Is, and unwraps to the last transport error.
type FetchError struct {
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Exhausted  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent failure"
	if e.Exhausted {
		kind = "retries exhausted"
	}
	detail := ""
	switch {
	case e.Err != nil:
		detail = e.Err.Error()
	case e.StatusCode != 0:
		detail = fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %s after %d attempt(s): %s", e.Method, e.URL, kind, e.Attempts, detail)
}

// Unwrap exposes the sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	sentinel := ErrPermanent
	if e.Exhausted {
		sentinel = ErrRetriesExhausted
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// failureClass groups attempt outcomes for the retry loop.
type failureClass int

const (
	classOK failureClass = iota
	classRetryable
	classRateLimited
	classPermanent
)

// classifyStatus maps an HTTP status to a failure class.
func classifyStatus(status int) failureClass {
	switch {
	case status >= 200 && status < 300:
		return classOK
	case status == http.StatusTooManyRequests:
		return classRateLimited
	case status >= 500:
		return classRetryable
	default:
		return classPermanent
	}
}

// classifyError maps a transport error to a failure class. DNS and TLS
// problems are permanent; timeouts, resets and truncated reads are retryable.
func classifyError(err error) failureClass {
	if err == nil {
		return classOK
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return classPermanent
	}
	if isTLSError(err) {
		return classPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classRetryable
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return classRetryable
	}
	return classPermanent
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}
