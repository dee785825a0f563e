package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrTransient marks failures worth retrying: timeouts, network errors,
// node unavailability. Everything the ledger itself rejects is permanent.
var ErrTransient = errors.New("transient ledger error")

type RejectReason string

const (
	ReasonInvalidSignature    RejectReason = "invalid_signature"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonStaleAuction        RejectReason = "stale_auction"
	ReasonAlreadySettled      RejectReason = "already_settled"
	ReasonUnknown             RejectReason = "unknown"
)

// RejectError is a terminal ledger rejection. It is never retried; the
// next cycle re-derives the need for action from fresh state instead.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ledger rejected: %s", e.Reason)
	}
	return fmt.Sprintf("ledger rejected: %s: %s", e.Reason, e.Detail)
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// ClassifyReason maps a ledger rejection message onto the reason taxonomy.
func ClassifyReason(detail string) RejectReason {
	msg := strings.ToLower(detail)
	switch {
	case strings.Contains(msg, "signature"):
		return ReasonInvalidSignature
	case strings.Contains(msg, "insufficient"):
		return ReasonInsufficientBalance
	case strings.Contains(msg, "settled"), strings.Contains(msg, "ended"):
		return ReasonAlreadySettled
	case strings.Contains(msg, "stale"), strings.Contains(msg, "expired"):
		return ReasonStaleAuction
	default:
		return ReasonUnknown
	}
}
