// Package engramerr defines the closed taxonomy of errors the agent daemon
// surfaces to callers: channel bridges classify these to decide whether to
// retry, fail over to another provider, or apologize to the end user.
package engramerr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind string

const (
	KindChannel    Kind = "channel"
	KindProvider   Kind = "provider"
	KindStorage    Kind = "storage"
	KindValidation Kind = "validation"
	KindBudget     Kind = "budget"
	KindTimeout    Kind = "timeout"
	KindKeyring    Kind = "keyring"
	KindCrypto     Kind = "crypto"
	KindOther      Kind = "other"
)

// ProviderSubKind further classifies KindProvider errors.
type ProviderSubKind string

const (
	ProviderTransport   ProviderSubKind = "transport"
	ProviderAuth        ProviderSubKind = "auth"
	ProviderRateLimited ProviderSubKind = "rate_limited"
	ProviderAPI         ProviderSubKind = "api"
)

// Error is the concrete error type carried through the agent; Kind and
// SubKind let callers branch without string-matching messages.
type Error struct {
	Kind       Kind
	SubKind    ProviderSubKind // only meaningful when Kind == KindProvider
	Status     int             // HTTP status, when applicable
	RetryAfter int             // seconds, from a Retry-After header; 0 if absent
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

func Channel(msg string, err error) *Error    { return newErr(KindChannel, msg, err) }
func Storage(msg string, err error) *Error    { return newErr(KindStorage, msg, err) }
func Validation(msg string, err error) *Error { return newErr(KindValidation, msg, err) }
func Budget(msg string, err error) *Error     { return newErr(KindBudget, msg, err) }
func Timeout(msg string, err error) *Error    { return newErr(KindTimeout, msg, err) }
func Keyring(msg string, err error) *Error    { return newErr(KindKeyring, msg, err) }
func Crypto(msg string, err error) *Error     { return newErr(KindCrypto, msg, err) }
func Other(msg string, err error) *Error      { return newErr(KindOther, msg, err) }

// ProviderTransportErr wraps a network/transport-level failure talking to a provider.
func ProviderTransportErr(msg string, err error) *Error {
	return &Error{Kind: KindProvider, SubKind: ProviderTransport, Message: msg, Err: err}
}

// ProviderAuthErr wraps a 401/403 response. Never retryable.
func ProviderAuthErr(status int, msg string) *Error {
	return &Error{Kind: KindProvider, SubKind: ProviderAuth, Status: status, Message: msg}
}

// ProviderRateLimitedErr wraps a 429 response, carrying Retry-After when present.
func ProviderRateLimitedErr(status, retryAfter int, msg string) *Error {
	return &Error{Kind: KindProvider, SubKind: ProviderRateLimited, Status: status, RetryAfter: retryAfter, Message: msg}
}

// ProviderAPIErr wraps any other non-2xx provider response (5xx, 4xx, etc).
func ProviderAPIErr(status int, msg string) *Error {
	return &Error{Kind: KindProvider, SubKind: ProviderAPI, Status: status, Message: msg}
}

// retryableStatuses are the HTTP statuses the provider resilience layer retries.
var retryableStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 529: true}

// IsRetryable reports whether a provider error is worth retrying with backoff.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindProvider {
		return false
	}
	switch e.SubKind {
	case ProviderAuth:
		return false
	case ProviderTransport:
		return true
	default:
		return retryableStatuses[e.Status]
	}
}

// IsBillingAuthOrQuota reports whether an error should trigger provider
// failover in the channel bridge pipeline (billing, auth, or quota failure).
func IsBillingAuthOrQuota(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindProvider {
		return false
	}
	if e.SubKind == ProviderAuth {
		return true
	}
	if e.SubKind == ProviderRateLimited {
		return true
	}
	return e.SubKind == ProviderAPI && (e.Status == 402 || e.Status == 403)
}
