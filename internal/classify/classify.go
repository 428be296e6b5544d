// Package classify maps an HTTP response or transport error into one of
// spec.md §4.6's error-class tags; the retry decision on those tags is made
// by retrypolicy.Policy.ShouldRetry. The transport-error sub-classification is
// grounded on ipiton-alert-history-service's layered errors.Is/errors.As
// approach (see DESIGN.md), adapted to this module's class vocabulary.
package classify

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is one of spec.md §4.6's outcome tags.
type Class string

const (
	ClassTransport                Class = "transport"
	ClassCloudflareChallenge      Class = "cloudflare_challenge"
	ClassCloudflareTimeout        Class = "cloudflare_timeout"
	ClassClientErrorNonRetryable  Class = "client_error_non_retryable"
	ClassServerError              Class = "server_error"
	ClassRateLimited              Class = "rate_limited"
	ClassOK                       Class = "ok"
)

const maxSniffBytes = 4096

// cloudflareMarkers are substrings observed in Cloudflare challenge pages.
var cloudflareMarkers = []string{
	"cf-chl", "cf-mitigated", "challenge-platform", "Attention Required! | Cloudflare",
	"cf-browser-verification",
}

// FromError classifies a transport-level error (no HTTP response
// received). It reports isCancellation=true for context.Canceled, which callers must
// treat as ClientCancelled rather than a retryable class (spec.md §7).
func FromError(err error) (class Class, isCancellation bool) {
	if errors.Is(err, context.Canceled) {
		return "", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransport, false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransport, false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
				return ClassTransport, false
			}
		}
		return ClassTransport, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransport, false
	}

	return ClassTransport, false
}

// FromResponse classifies a completed HTTP response. bodyPeek is an
// optional prefix of the response body (at most maxSniffBytes) used only
// for Cloudflare-challenge sniffing; passing nil skips that check. An HTML
// body carrying a challenge marker is a challenge at any status other than
// 524; a 403 is also one when looksLikeCloudflare matches.
func FromResponse(statusCode int, header http.Header, bodyPeek []byte) Class {
	htmlChallenge := false
	if strings.Contains(strings.ToLower(header.Get("Content-Type")), "text/html") {
		peek := bodyPeek
		if len(peek) > maxSniffBytes {
			peek = peek[:maxSniffBytes]
		}
		for _, marker := range cloudflareMarkers {
			if bytes.Contains(peek, []byte(marker)) {
				htmlChallenge = true
				break
			}
		}
	}
	switch {
	case statusCode == 524:
		return ClassCloudflareTimeout
	case htmlChallenge || (statusCode == 403 && looksLikeCloudflare(header, bodyPeek)):
		return ClassCloudflareChallenge
	case statusCode == 429:
		return ClassRateLimited
	case statusCode >= 200 && statusCode < 400:
		return ClassOK
	case statusCode == 413 || statusCode == 415 || statusCode == 422:
		return ClassClientErrorNonRetryable
	case statusCode >= 400 && statusCode < 500:
		return ClassClientErrorNonRetryable
	case statusCode >= 500:
		return ClassServerError
	default:
		return ClassServerError
	}
}

func looksLikeCloudflare(header http.Header, bodyPeek []byte) bool {
	if header.Get("cf-mitigated") != "" || header.Get("cf-chl-bypass") != "" {
		return true
	}
	if server := header.Get("Server"); strings.EqualFold(server, "cloudflare") {
		peek := bodyPeek
		if len(peek) > maxSniffBytes {
			peek = peek[:maxSniffBytes]
		}
		for _, marker := range cloudflareMarkers {
			if bytes.Contains(peek, []byte(marker)) {
				return true
			}
		}
	}
	return false
}
