package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RequestContext carries the caller identity to handlers explicitly.
type RequestContext struct {
	BuyerID string
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok && rc.BuyerID != ""
}

// Identity validates an HS256 bearer token and stores its user_id claim as
// the buyer of the request. Requests without a valid token get 401.
func Identity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			buyerID, err := parseBuyer(raw, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			ctx := WithRequestContext(r.Context(), RequestContext{BuyerID: buyerID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseBuyer(raw string, secret []byte) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		// JSON numbers decode as float64
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", fmt.Errorf("user_id claim missing")
}

// Buyer returns the identity stored by Identity. Handlers mounted behind the
// middleware can rely on it being present.
func Buyer(r *http.Request) RequestContext {
	rc, _ := RequestContextFrom(r.Context())
	return rc
}
