package services

import (
	"grubs-service/repository"

	"github.com/pkg/errors"
)

var (
	ErrActorNotFound = errors.New("actor not found")
	ErrEventNotFound = errors.New("event not found")
	ErrGroupNotFound = errors.New("group not found")

	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrInvalidTransactionType = errors.New("unknown transaction type")
	ErrInvalidReference       = errors.New("invalid transaction reference")
	ErrInvalidCoordinates     = errors.New("invalid coordinates")
	ErrInvalidEvent           = errors.New("invalid event")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrContention             = errors.New("ledger busy, retry later")

	ErrNotAMember = errors.New("not a member of this group")
	ErrNotAdmin   = errors.New("only group owners and admins may manage events")

	ErrAlreadyCheckedIn          = errors.New("already checked in to this event")
	ErrNotCheckedIn              = errors.New("must check in first")
	ErrEventNotAcceptingCheckins = errors.New("event is not accepting check-ins")
	ErrEventNotAcceptingPings    = errors.New("event is not accepting pings")
	ErrEventFrozen               = errors.New("event can only be edited while scheduled")
	ErrEventNotCancellable       = errors.New("event has already ended or been cancelled")

	ErrTickInProgress = errors.New("tick already in progress")

	ErrIdempotencyMismatch = errors.New("idempotency key was already used for a different entry")
)

// Kind is the error taxonomy surfaced to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindInsufficientBalance
	KindContention
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindContention:
		return "contention"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// Retryable reports whether the caller may retry the same request with backoff.
func (k Kind) Retryable() bool {
	return k == KindContention
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTransactionType),
		errors.Is(err, ErrInvalidReference),
		errors.Is(err, ErrInvalidCoordinates),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrEventNotAcceptingCheckins),
		errors.Is(err, ErrEventNotAcceptingPings),
		errors.Is(err, ErrNotCheckedIn),
		errors.Is(err, ErrAlreadyCheckedIn):
		return KindValidation
	case errors.Is(err, ErrActorNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotAMember), errors.Is(err, ErrNotAdmin):
		return KindAuthorization
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrContention), errors.Is(err, repository.ErrContention):
		return KindContention
	case errors.Is(err, ErrEventFrozen),
		errors.Is(err, ErrEventNotCancellable),
		errors.Is(err, ErrTickInProgress),
		errors.Is(err, ErrIdempotencyMismatch),
		errors.Is(err, repository.ErrConflict):
		return KindConflict
	}
	return KindInternal
}
