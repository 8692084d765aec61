package match

import "errors"

// Kind classifies why an operation was refused.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindStateConflict
	KindInsufficientFunds
	KindInsufficientHolding
	KindNotAuthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInsufficientHolding:
		return "insufficient_holding"
	case KindNotAuthorized:
		return "not_authorized"
	default:
		return "unknown"
	}
}

// Error is returned by every refused engine operation. Nothing is mutated
// when an Error is returned.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidStake    = newError(KindValidation, "invalid_stake", "stake amount must be positive and within limits")
	ErrInvalidDuration = newError(KindValidation, "invalid_duration", "duration must be positive and within limits")
	ErrInvalidAssets   = newError(KindValidation, "invalid_assets", "assets must be a non-empty subset of the tradable universe")
	ErrInvalidPlayer   = newError(KindValidation, "invalid_player", "player identifier is required")
	ErrInvalidTrade    = newError(KindValidation, "invalid_trade", "quantity must be positive and side must be buy or sell")
	ErrUnknownAsset    = newError(KindValidation, "unknown_asset", "asset is not tradable in this match")

	ErrMatchNotFound = newError(KindNotFound, "match_not_found", "match not found")

	ErrMatchNotJoinable = newError(KindStateConflict, "match_not_joinable", "match is not waiting for an opponent")
	ErrSelfJoin         = newError(KindStateConflict, "self_join", "cannot join your own match")
	ErrPlayerBusy       = newError(KindStateConflict, "player_busy", "player already has an open or active match")
	ErrMatchNotActive   = newError(KindStateConflict, "match_not_active", "match is not active")
	ErrNotCancellable   = newError(KindStateConflict, "match_not_cancellable", "only waiting matches can be cancelled")
	ErrPriceUnavailable = newError(KindStateConflict, "price_unavailable", "no price available for asset")

	ErrInsufficientFunds   = newError(KindInsufficientFunds, "insufficient_funds", "insufficient cash for this trade")
	ErrInsufficientHolding = newError(KindInsufficientHolding, "insufficient_holding", "insufficient holding for this trade")

	ErrPlayerNotInMatch = newError(KindNotAuthorized, "player_not_in_match", "player is not seated in this match")
	ErrNotCreator       = newError(KindNotAuthorized, "not_creator", "only the creator can cancel a match")
)

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the stable reason code of err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
