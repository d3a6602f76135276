package core

import "errors"

// ErrorKind classifies a rejection so callers know how to react: fix the input, re-read
// state, wait for the price feed, use a privileged account, or retry the transfer.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindState
	KindOracle
	KindAuthorization
	KindTransfer
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindOracle:
		return "oracle"
	case KindAuthorization:
		return "authorization"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Error is a distinguishable rejection reason. Call sites wrap the sentinel values below
// with context using fmt.Errorf("...: %w", ErrX).
type Error struct {
	Kind ErrorKind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

var (
	ErrInvalidDuration     = &Error{Kind: KindValidation, Code: "InvalidDuration"}
	ErrInvalidReserve      = &Error{Kind: KindValidation, Code: "InvalidReserve"}
	ErrZeroAmount          = &Error{Kind: KindValidation, Code: "ZeroAmount"}
	ErrAmountTooLarge      = &Error{Kind: KindValidation, Code: "AmountTooLarge"}
	ErrUnsupportedCurrency = &Error{Kind: KindValidation, Code: "UnsupportedCurrency"}
	ErrUnknownAsset        = &Error{Kind: KindValidation, Code: "UnknownAsset"}
	ErrBidTooLow           = &Error{Kind: KindValidation, Code: "BidTooLow"}
	ErrSellerCannotBid     = &Error{Kind: KindValidation, Code: "SellerCannotBid"}
	ErrValueNotAccepted    = &Error{Kind: KindValidation, Code: "ValueNotAccepted"}
	ErrUnsupportedCall     = &Error{Kind: KindValidation, Code: "UnsupportedCall"}

	ErrAuctionNotFound     = &Error{Kind: KindState, Code: "AuctionNotFound"}
	ErrAuctionNotActive    = &Error{Kind: KindState, Code: "AuctionNotActive"}
	ErrAuctionStillActive  = &Error{Kind: KindState, Code: "AuctionStillActive"}
	ErrAlreadySettled      = &Error{Kind: KindState, Code: "AlreadySettled"}
	ErrAssetAlreadyListed  = &Error{Kind: KindState, Code: "AssetAlreadyListed"}
	ErrNothingToWithdraw   = &Error{Kind: KindState, Code: "NothingToWithdraw"}
	ErrAlreadyInitialized  = &Error{Kind: KindState, Code: "AlreadyInitialized"}
	ErrNotInitialized      = &Error{Kind: KindState, Code: "NotInitialized"}

	ErrOracleUnavailable = &Error{Kind: KindOracle, Code: "OracleUnavailable"}

	ErrNotOwner                   = &Error{Kind: KindAuthorization, Code: "NotOwner"}
	ErrNotAssetOwner              = &Error{Kind: KindAuthorization, Code: "NotAssetOwner"}
	ErrIncompatibleImplementation = &Error{Kind: KindAuthorization, Code: "IncompatibleImplementation"}
	ErrInvalidManifest            = &Error{Kind: KindAuthorization, Code: "InvalidManifest"}

	ErrTransferFailed        = &Error{Kind: KindTransfer, Code: "TransferFailed"}
	ErrInsufficientAllowance = &Error{Kind: KindTransfer, Code: "InsufficientAllowance"}
	ErrInsufficientBalance   = &Error{Kind: KindTransfer, Code: "InsufficientBalance"}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
