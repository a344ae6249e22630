package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and caches return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: key or document does not exist (cache miss included)
//   - ErrUnavailable: backing service unreachable or connection lost
//   - ErrQuery: backing service accepted the request but could not execute it
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrQuery       = errors.New("rejected by store")
)
