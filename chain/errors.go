package chain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a validation or decode failure kind. Codes are stable
// strings so they survive logging and wire-level reject messages unchanged.
type ErrorCode string

const (
	ErrShortRead        ErrorCode = "short_read"
	ErrMalformedVarint  ErrorCode = "malformed_varint"
	ErrInvalidScript    ErrorCode = "invalid_script"
	ErrDoubleSpend      ErrorCode = "double_spend"
	ErrCoinbaseMisshape ErrorCode = "coinbase_misshape"
	ErrInsufficientFee  ErrorCode = "insufficient_fee"
	ErrBadMerkleRoot    ErrorCode = "bad_merkle_root"
	ErrBadProofOfWork   ErrorCode = "bad_proof_of_work"
	ErrBadProofOfStake  ErrorCode = "bad_proof_of_stake"
	ErrBadWitnessSlot   ErrorCode = "bad_witness_slot"
	ErrBadTimestamp     ErrorCode = "bad_timestamp"
	ErrOrphanBlock      ErrorCode = "orphan_block"
	ErrDuplicateTx      ErrorCode = "duplicate_tx"
	ErrDuplicateAsset   ErrorCode = "duplicate_asset"
	ErrDuplicateDid     ErrorCode = "duplicate_did"
	ErrDuplicateCert    ErrorCode = "duplicate_cert"
	ErrAddressMismatch  ErrorCode = "address_mismatch"
	ErrAttachmentInvalid ErrorCode = "attachment_invalid"
	ErrStoreCorrupted   ErrorCode = "store_corrupted"
	ErrStopped          ErrorCode = "stopped"
)

// Error carries an ErrorCode plus a short human reason. Validators return it
// for every rejection; decode paths return it for every malformed byte stream.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is lets errors.Is match two chain errors by code alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// NewError builds a coded error with a fixed message.
func NewError(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Errorf builds a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ErrorIs reports whether err carries the given code.
func ErrorIs(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
