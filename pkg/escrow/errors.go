package escrow

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the escrow service.
var (
	ErrInvalidClassName       = errors.New("invalid class name")
	ErrInvalidPricePerNight   = errors.New("invalid price per night")
	ErrInvalidHotelName       = errors.New("invalid hotel name")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidNights          = errors.New("invalid nights")
	ErrInvalidAmountCents     = errors.New("invalid amount cents")
	ErrInvalidClassID         = errors.New("invalid class id")
	ErrInvalidHotelID         = errors.New("invalid hotel id")
	ErrInvalidBookingID       = errors.New("invalid booking id")
	ErrInvalidMetadataJSON    = errors.New("invalid metadata json")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
	ErrEmptyBookingTotal      = errors.New("empty booking total")
	ErrUnknownClass           = errors.New("unknown room class")
	ErrUnknownHotel           = errors.New("unknown hotel")
	ErrUnknownBooking         = errors.New("unknown booking")
	ErrClassNotOffered        = errors.New("class not offered by hotel")
	ErrNotAdministrator       = errors.New("caller is not the administrator")
	ErrNotHotelPayout         = errors.New("caller is not the hotel payout address")
	ErrRoomUnpaid             = errors.New("room not paid")
	ErrRoomAlreadyReleased    = errors.New("room payment already released")
	ErrDepositAlreadyReleased = errors.New("deposit already released")
	ErrTransferFailed         = errors.New("transfer failed")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
