package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Code is a stable, client-visible error code.
type Code string

const (
	MissingToken               Code = "MISSING_TOKEN"
	InvalidToken               Code = "INVALID_TOKEN"
	InvalidCredentials         Code = "INVALID_CREDENTIALS"
	AccountInactive            Code = "ACCOUNT_INACTIVE"
	QuotaExceeded              Code = "QUOTA_EXCEEDED"
	CredentialDecryptionFailed Code = "CREDENTIAL_DECRYPTION_FAILED"
	WebhookDeliveryFailed      Code = "WEBHOOK_DELIVERY_FAILED"
	TierRequired               Code = "TIER_REQUIRED"
	RateLimited                Code = "RATE_LIMITED"
	NotFound                   Code = "NOT_FOUND"
	ValidationFailed           Code = "VALIDATION_FAILED"
	Forbidden                  Code = "FORBIDDEN"
	Conflict                   Code = "CONFLICT"
	Unavailable                Code = "UNAVAILABLE"
	NotImplemented             Code = "NOT_IMPLEMENTED"
	UpstreamFailed             Code = "UPSTREAM_FAILED"
	Internal                   Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	MissingToken:               http.StatusUnauthorized,
	InvalidToken:               http.StatusUnauthorized,
	InvalidCredentials:         http.StatusUnauthorized,
	AccountInactive:            http.StatusForbidden,
	QuotaExceeded:              http.StatusTooManyRequests,
	CredentialDecryptionFailed: http.StatusBadGateway,
	WebhookDeliveryFailed:      http.StatusBadGateway,
	TierRequired:               http.StatusPaymentRequired,
	RateLimited:                http.StatusTooManyRequests,
	NotFound:                   http.StatusNotFound,
	ValidationFailed:           http.StatusBadRequest,
	Forbidden:                  http.StatusForbidden,
	Conflict:                   http.StatusConflict,
	Unavailable:                http.StatusServiceUnavailable,
	NotImplemented:             http.StatusNotImplemented,
	UpstreamFailed:             http.StatusBadGateway,
	Internal:                   http.StatusInternalServerError,
}

// Status maps a code to its HTTP-equivalent status.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (c Code) slug() string { return strings.ReplaceAll(strings.ToLower(string(c)), "_", "-") }

// Problem is an error carrying a stable code. Detail is safe to show to clients.
type Problem struct {
	Code   Code
	Detail string
	Extra  map[string]any
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return string(p.Code)
	}
	return fmt.Sprintf("%s: %s", p.Code, p.Detail)
}

// Is matches any *Problem with the same code, so sentinels work with errors.Is.
func (p *Problem) Is(target error) bool {
	var t *Problem
	if errors.As(target, &t) {
		return t.Code == p.Code
	}
	return false
}

func New(code Code, detail string) *Problem { return &Problem{Code: code, Detail: detail} }

func Newf(code Code, format string, args ...any) *Problem {
	return &Problem{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// With returns a copy of p carrying an extra response member.
func (p *Problem) With(key string, v any) *Problem {
	cp := *p
	cp.Extra = map[string]any{}
	for k, x := range p.Extra {
		cp.Extra[k] = x
	}
	cp.Extra[key] = v
	return &cp
}

var (
	ErrMissingToken               = New(MissingToken, "")
	ErrInvalidToken               = New(InvalidToken, "")
	ErrInvalidCredentials         = New(InvalidCredentials, "")
	ErrAccountInactive            = New(AccountInactive, "")
	ErrQuotaExceeded              = New(QuotaExceeded, "")
	ErrCredentialDecryptionFailed = New(CredentialDecryptionFailed, "")
	ErrTierRequired               = New(TierRequired, "")
	ErrRateLimited                = New(RateLimited, "")
	ErrNotFound                   = New(NotFound, "")
)

// CodeOf extracts the code of err, or Internal.
func CodeOf(err error) Code {
	var p *Problem
	if errors.As(err, &p) {
		return p.Code
	}
	return Internal
}

// Write renders err as application/problem+json. Non-Problem errors become an opaque 500.
func Write(w http.ResponseWriter, err error) {
	var p *Problem
	if !errors.As(err, &p) {
		p = New(Internal, "")
	}
	status := p.Code.Status()
	body := map[string]any{
		"type":   Type(p.Code.slug()),
		"title":  http.StatusText(status),
		"status": status,
		"code":   p.Code,
	}
	if p.Detail != "" {
		body["detail"] = p.Detail
	}
	for k, v := range p.Extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
