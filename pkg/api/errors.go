package api

import "errors"

var (
	errMissingAuthorization = errors.New("authorization missing from request context")
	errPartialWindow        = errors.New("period_start and period_end must both be supplied")
	errInvertedWindow       = errors.New("period_end must be after period_start")
)
