package gateway

import (
	"context"
	"errors"
)

// Error taxonomy for payment initiation. The caller maps these onto the
// API response: unavailable is retryable, invalid input is fixable by the
// user, rejected is terminal.
var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrGatewayRejected    = errors.New("gateway rejected request")
)

// InitiateResult is what the provider returns synchronously for an STK
// push. CheckoutRef keys the payment intent until the async callback.
type InitiateResult struct {
	CheckoutRef       string
	MerchantRequestID string
}

// Callback is the parsed provider notification. ResultCode 0 means the
// payment succeeded; any other code is a business failure (insufficient
// funds, user cancelled PIN entry, timeout on the handset).
type Callback struct {
	MerchantRequestID string
	CheckoutRef       string
	ResultCode        int
	ResultDesc        string
	Amount            int64
	ReceiptNo         string
	Phone             string
	TransactionDate   string
}

func (c Callback) Success() bool { return c.ResultCode == 0 }

// Gateway wraps the mobile-money provider. It owns no business state:
// one outbound call per Initiate, pure parsing for callbacks.
type Gateway interface {
	Initiate(ctx context.Context, amount int64, phone, accountRef string) (InitiateResult, error)
	ParseCallback(body []byte) (Callback, error)
}
