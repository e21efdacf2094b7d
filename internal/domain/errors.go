package domain

import "errors"

// ErrorKind classifies domain failures so transports can map them without
// string matching.
type ErrorKind string

const (
	KindInvalidTransition          ErrorKind = "invalid_transition"
	KindContestNotAcceptingEntries ErrorKind = "contest_not_accepting_entries"
	KindDuplicateEntry             ErrorKind = "duplicate_entry"
	KindAlreadyModerated           ErrorKind = "already_moderated"
	KindEntryNotApproved           ErrorKind = "entry_not_approved"
	KindContestClosed              ErrorKind = "contest_closed"
	KindContestNotActive           ErrorKind = "contest_not_active"
	KindRateLimited                ErrorKind = "rate_limited"
	KindDuplicatePayment           ErrorKind = "duplicate_payment"
	KindProviderUnavailable        ErrorKind = "provider_unavailable"
	KindProviderRejected           ErrorKind = "provider_rejected"
	KindPaymentExpired             ErrorKind = "payment_expired"
	KindNotFound                   ErrorKind = "not_found"
	KindInvalidInput               ErrorKind = "invalid_input"
)

// Error is a domain error carrying its taxonomy kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any domain error of the same kind, so wrapped sentinels with
// extra context still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidTransition          = &Error{Kind: KindInvalidTransition, Message: "transition is not allowed from the current contest state"}
	ErrContestNotAcceptingEntries = &Error{Kind: KindContestNotAcceptingEntries, Message: "contest is not accepting entries"}
	ErrDuplicateEntry             = &Error{Kind: KindDuplicateEntry, Message: "participant already has an entry in this contest"}
	ErrAlreadyModerated           = &Error{Kind: KindAlreadyModerated, Message: "entry has already been moderated"}
	ErrEntryNotApproved           = &Error{Kind: KindEntryNotApproved, Message: "entry is not approved"}
	ErrContestClosed              = &Error{Kind: KindContestClosed, Message: "contest is closed"}
	ErrContestNotActive           = &Error{Kind: KindContestNotActive, Message: "contest is not active yet"}
	ErrRateLimited                = &Error{Kind: KindRateLimited, Message: "free vote already used for this entry, try again later"}
	ErrDuplicatePayment           = &Error{Kind: KindDuplicatePayment, Message: "payment reference already credited"}
	ErrProviderUnavailable        = &Error{Kind: KindProviderUnavailable, Message: "payment provider unavailable"}
	ErrProviderRejected           = &Error{Kind: KindProviderRejected, Message: "payment was rejected by the provider"}
	ErrPaymentExpired             = &Error{Kind: KindPaymentExpired, Message: "payment intent has expired"}

	ErrContestNotFound = &Error{Kind: KindNotFound, Message: "contest not found"}
	ErrEntryNotFound   = &Error{Kind: KindNotFound, Message: "entry not found"}
	ErrPaymentNotFound = &Error{Kind: KindNotFound, Message: "payment intent not found"}
	ErrPackageNotFound = &Error{Kind: KindNotFound, Message: "vote package not found"}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// KindOf returns the kind of the first domain error in err's chain, or ""
// if there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Invalid builds an input validation error with a specific message.
func Invalid(message string) error {
	return &Error{Kind: KindInvalidInput, Message: message}
}
