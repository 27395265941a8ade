package shopify

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	// KindTransient: 5xx or transport error, worth retrying.
	KindTransient ErrorKind = iota
	// KindRateLimited: HTTP 429.
	KindRateLimited
	// KindPermanent: 4xx other than 429, or a malformed success response.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("shopify %s: http %d (%s): %s", e.Op, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("shopify %s (%s): %s", e.Op, e.Kind, e.Message)
}

// KindOf classifies any error coming out of the client. Non-API errors
// (transport, decode) count as transient.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 500 || status == 502 || status == 503 || status == 504:
		return KindTransient
	default:
		return KindPermanent
	}
}
