package upstream

import (
	"errors"
	"fmt"
)

// Kind is the closed set of upstream outcomes. Expected statuses (404, 429,
// auth expiry) are data, not errors; only transport failures surface as a
// Go error from the client.
type Kind int

const (
	Success Kind = iota
	NotFound
	AuthExpired
	RateLimited
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case AuthExpired:
		return "auth_expired"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

type Outcome struct {
	Kind   Kind
	Status int
	Body   []byte
}

// Configuration errors abort immediately: no amount of retrying fixes a
// missing session or user id.
var (
	ErrNoSession = errors.New("no session cookies configured")
	ErrNoUserID  = errors.New("upstream user id not configured")

	ErrAuthExpired = errors.New("session expired upstream")
	ErrRateLimited = errors.New("rate limited upstream")
)

// Error is the fatal branch of the taxonomy, carrying status and body for
// the logs.
type Error struct {
	Status int
	Body   []byte
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, body)
}

func classify(status int, body []byte) Outcome {
	switch {
	case status >= 200 && status <= 299:
		return Outcome{Kind: Success, Status: status, Body: body}
	case status == 404:
		return Outcome{Kind: NotFound, Status: status}
	case status == 401 || status == 403:
		return Outcome{Kind: AuthExpired, Status: status}
	case status == 429:
		return Outcome{Kind: RateLimited, Status: status}
	default:
		return Outcome{Kind: Fatal, Status: status, Body: body}
	}
}
