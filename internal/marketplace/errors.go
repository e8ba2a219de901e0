package marketplace

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrConfiguration      = errors.New("seller has no payment credential")
	ErrEmptyCartForSeller = errors.New("no cart lines for seller")
	ErrGateway            = errors.New("payment gateway failure")

	ErrMissingPaymentID = errors.New("missing payment id")
	ErrMissingReference = errors.New("missing external reference")
	ErrOrderNotFound    = errors.New("order not found")
	ErrUpstreamNotFound = errors.New("payment not found upstream")
	ErrInternal         = errors.New("internal error")
)

// CheckoutError is a checkout failure with a message meant for the buyer.
type CheckoutError struct {
	Kind    error
	Message string
	Err     error
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *CheckoutError) Is(target error) bool { return target == e.Kind }
func (e *CheckoutError) Unwrap() error        { return e.Err }

// WebhookError maps a reconciliation failure to the response the gateway sees.
type WebhookError struct {
	Kind       error
	HTTPStatus int
	Message    string
	Err        error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WebhookError) Is(target error) bool { return target == e.Kind }
func (e *WebhookError) Unwrap() error        { return e.Err }

func missingPaymentID() *WebhookError {
	return &WebhookError{Kind: ErrMissingPaymentID, HTTPStatus: http.StatusBadRequest,
		Message: "ID de pagamento não encontrado"}
}

func missingReference() *WebhookError {
	return &WebhookError{Kind: ErrMissingReference, HTTPStatus: http.StatusBadRequest,
		Message: "Referência externa não encontrada"}
}

func orderNotFound(id string) *WebhookError {
	return &WebhookError{Kind: ErrOrderNotFound, HTTPStatus: http.StatusNotFound,
		Message: fmt.Sprintf("Pedido %s não encontrado", id)}
}

func upstreamNotFound(paymentID string, status int) *WebhookError {
	return &WebhookError{Kind: ErrUpstreamNotFound, HTTPStatus: http.StatusNotFound,
		Message: fmt.Sprintf("Pagamento %s não encontrado no gateway (status %d)", paymentID, status)}
}

func internalError(err error) *WebhookError {
	return &WebhookError{Kind: ErrInternal, HTTPStatus: http.StatusInternalServerError,
		Message: "internal error", Err: err}
}

// AsWebhookError converts any reconciliation error into a WebhookError,
// treating unknown errors as internal.
func AsWebhookError(err error) *WebhookError {
	var we *WebhookError
	if errors.As(err, &we) {
		return we
	}
	return internalError(err)
}
