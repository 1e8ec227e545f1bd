package errors

import (
	"errors"
)

var (
	ErrUserNotFound                 = errors.New("user not found")
	ErrWalletNotFound               = errors.New("wallet not found")
	ErrPaymentNotFound              = errors.New("payment not found")
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrCallNotFound                 = errors.New("call not found")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrConcurrentModification       = errors.New("concurrent modification")
	ErrInvalidTransactionType       = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus     = errors.New("invalid transaction status")
	ErrInvalidTransactionTransition = errors.New("invalid transaction transition")
	ErrInvalidWebhookPayload        = errors.New("invalid webhook payload")
	ErrExternalInvoiceFailure       = errors.New("external invoice failure")
	ErrNilTransaction               = errors.New("transaction is nil")
	ErrNilPayment                   = errors.New("payment is nil")
	ErrInvalidReactivationToken     = errors.New("invalid reactivation token")
	ErrTokenAlreadyUsed             = errors.New("reactivation token already used")
	ErrInternal                     = errors.New("internal error")
)
