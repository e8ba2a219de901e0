// Package mercadopago is the payment gateway adapter over the Mercado Pago
// SDK: checkout preferences on behalf of a seller and payment lookups with
// the marketplace credential.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

type BackURLs struct {
	Success string
	Failure string
	Pending string
}

type Options struct {
	BaseURL         string // overrides the SDK's API host when set
	AccessToken     string // marketplace token, used for payment lookups
	AppID           string // numeric application id
	NotificationURL string
	BackURLs        BackURLs
	Timeout         time.Duration
}

type Client struct {
	appID           string
	notificationURL string
	backURLs        BackURLs
	requester       *requester
	payments        payment.Client
	log             *zap.Logger
}

func New(opts Options, log *zap.Logger) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, errors.New("mercadopago: access token not configured")
	}
	if opts.AppID == "" {
		return nil, errors.New("mercadopago: app id not configured")
	}
	if _, err := strconv.ParseInt(opts.AppID, 10, 64); err != nil {
		return nil, fmt.Errorf("mercadopago: app id %q is not a number", opts.AppID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	rq := &requester{http: &http.Client{Timeout: opts.Timeout}}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("mercadopago: invalid base url %q", opts.BaseURL)
		}
		rq.base = u
	}
	c := &Client{
		appID:           opts.AppID,
		notificationURL: opts.NotificationURL,
		backURLs:        opts.BackURLs,
		requester:       rq,
		log:             log,
	}
	cfg, err := c.config(opts.AccessToken)
	if err != nil {
		return nil, err
	}
	c.payments = payment.NewClient(cfg)
	return c, nil
}

func (c *Client) config(token string) (*config.Config, error) {
	cfg, err := config.New(token, config.WithHTTPClient(c.requester))
	if err != nil {
		return nil, fmt.Errorf("mercadopago: config: %w", err)
	}
	return cfg, nil
}

// PreferenceError is returned when the gateway refuses a preference or its
// answer carries no payment link.
type PreferenceError struct {
	HTTPStatus int
	Detail     string
}

func (e *PreferenceError) Error() string {
	return "Erro ao criar link de pagamento: " + e.Detail
}

func (c *Client) preferenceRequest(p marketplace.Preference) preference.Request {
	req := preference.Request{
		Marketplace:       "MP-MKT-" + c.appID,
		MarketplaceFee:    p.Fee.InexactFloat64(),
		NotificationURL:   c.notificationURL,
		ExternalReference: p.ExternalReference,
	}
	for _, it := range p.Items {
		req.Items = append(req.Items, preference.ItemRequest{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			CurrencyID: it.CurrencyID,
			UnitPrice:  it.UnitPrice.InexactFloat64(),
		})
	}
	if c.backURLs != (BackURLs{}) {
		req.BackURLs = &preference.BackURLsRequest{
			Success: c.backURLs.Success,
			Failure: c.backURLs.Failure,
			Pending: c.backURLs.Pending,
		}
		// auto_return is only accepted together with a success URL.
		if c.backURLs.Success != "" {
			req.AutoReturn = "all"
		}
	}
	return req
}

// CreatePreference registers the preference with the seller's credential, so
// the seller collects the payment and the marketplace collects the fee.
func (c *Client) CreatePreference(ctx context.Context, credential string, p marketplace.Preference) (string, error) {
	cfg, err := c.config(credential)
	if err != nil {
		return "", err
	}
	ctx = withIdempotencyKey(ctx, p.ExternalReference)
	res, err := preference.NewClient(cfg).Create(ctx, c.preferenceRequest(p))
	if err != nil {
		var re *mperror.ResponseError
		if !errors.As(err, &re) {
			return "", &PreferenceError{Detail: err.Error()}
		}
		detail := responseMessage(re.Message)
		if detail == "" {
			detail = "Erro desconhecido ao criar preferência."
		}
		c.log.Warn("preference rejected",
			zap.Int("http_status", re.StatusCode),
			zap.String("external_reference", p.ExternalReference),
			zap.String("detail", detail))
		return "", &PreferenceError{HTTPStatus: re.StatusCode, Detail: detail}
	}
	if res == nil || res.InitPoint == "" {
		return "", &PreferenceError{HTTPStatus: http.StatusOK, Detail: "init_point não encontrado na resposta"}
	}
	c.log.Debug("preference created",
		zap.String("preference_id", res.ID),
		zap.String("external_reference", p.ExternalReference))
	return res.InitPoint, nil
}

// GetPayment reads a payment with the marketplace token. A refusal from the
// gateway is not an error: its status code is reported on the Payment so the
// caller can tell an unknown payment from a transport failure. Any successful
// read reports 200.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (marketplace.Payment, error) {
	id, err := strconv.Atoi(paymentID)
	if err != nil || id <= 0 {
		// payment ids are numeric; anything else cannot exist
		return marketplace.Payment{HTTPStatus: http.StatusNotFound}, nil
	}
	res, err := c.payments.Get(ctx, id)
	if err != nil {
		var re *mperror.ResponseError
		if errors.As(err, &re) {
			return marketplace.Payment{HTTPStatus: re.StatusCode}, nil
		}
		return marketplace.Payment{}, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	if res == nil {
		return marketplace.Payment{}, fmt.Errorf("get payment %s: empty response", paymentID)
	}
	return marketplace.Payment{
		HTTPStatus:        http.StatusOK,
		Status:            marketplace.Status(res.Status),
		ExternalReference: res.ExternalReference,
	}, nil
}

// responseMessage pulls the "message" field out of an error body, falling
// back to the raw text.
func responseMessage(body string) string {
	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return body
	}
	return out.Message
}

var _ marketplace.Gateway = (*Client)(nil)
