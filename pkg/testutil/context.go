package testutil

import (
	"net/http"

	"vehicleinfo/pkg/requestcontext"
)

// WithRequestID attaches a request ID the way the RequestID middleware does.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
