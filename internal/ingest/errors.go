package ingest

import "errors"

// ErrNeedsAuth signals that no usable credential exists for an API
// source — either none was stored or the provider rejected it as
// expired or revoked. Callers match it with errors.Is and prompt the
// user to re-authenticate; by the time it is returned, any stored
// credential has already been purged.
var ErrNeedsAuth = errors.New("authentication required")
