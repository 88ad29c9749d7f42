package models

import "errors"

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDoctorUnavailable  = errors.New("doctor unavailable")
	ErrAlreadyBound       = errors.New("already bound")
	ErrPatientBusy        = errors.New("patient already has an open session")
	ErrSessionNotActive   = errors.New("session not active")
	ErrSessionNotEnded    = errors.New("session not ended")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateReference = errors.New("duplicate ledger reference")
)
