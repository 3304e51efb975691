package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/crypto"
	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Request signature headers. The signature is an EIP-191 personal signature
// over crypto.RequestDigest(method, path, body, timestamp).
const (
	HeaderSignature = "X-Cascade-Signature"
	HeaderTimestamp = "X-Cascade-Timestamp"
)

// MaxBodyBytes bounds the request body read for signature checks.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller domain.InstanceID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the authenticated caller of the request, if any.
func Caller(ctx context.Context) (domain.InstanceID, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.InstanceID)
	return c, ok && c != ""
}

// Signed authenticates write requests by recovering the signer of the
// request signature. The recovered address becomes the caller. Timestamps
// further than maxSkew from now are rejected. Reads pass through unsigned.
func Signed(maxSkew time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isRead(r) {
				next.ServeHTTP(w, r)
				return
			}

			sig := r.Header.Get(HeaderSignature)
			tsRaw := r.Header.Get(HeaderTimestamp)
			if sig == "" || tsRaw == "" {
				writeError(w, http.StatusUnauthorized, "missing request signature")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid signature timestamp")
				return
			}
			if maxSkew > 0 {
				skew := now().Sub(time.Unix(ts, 0))
				if skew > maxSkew || skew < -maxSkew {
					writeError(w, http.StatusUnauthorized, "signature timestamp outside allowed window")
					return
				}
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > MaxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, body, ts, sig)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), crypto.IdentityOf(addr))))
		})
	}
}
