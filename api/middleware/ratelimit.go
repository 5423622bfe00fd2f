package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/rate"
)

// RateLimit rejects clients exceeding the limiter's budget, keyed by the
// remote address.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !lim.Check(host) {
				err := errors.New("too many requests")
				return weberr.NewError(err, err.Error(), http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
