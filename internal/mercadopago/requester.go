package mercadopago

import (
	"context"
	"net/http"
	"net/url"
)

type idempotencyKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// requester is the HTTP client handed to the SDK. It points requests at base
// when one is configured and pins the idempotency key of a preference to its
// external reference, so a retried checkout cannot create a second link.
type requester struct {
	http *http.Client
	base *url.URL
}

func (r *requester) Do(req *http.Request) (*http.Response, error) {
	if r.base != nil {
		req.URL.Scheme = r.base.Scheme
		req.URL.Host = r.base.Host
		req.Host = r.base.Host
	}
	if key, ok := req.Context().Value(idempotencyKey{}).(string); ok {
		req.Header.Set("X-Idempotency-Key", key)
	}
	return r.http.Do(req)
}
