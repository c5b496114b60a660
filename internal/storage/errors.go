package storage

import "errors"

// ErrNoSuchBucket distinguishes "never provisioned" from "provisioned but
// empty". Read callers map it to a 404-equivalent.
var ErrNoSuchBucket = errors.New("storage: no such bucket")

// ErrContentNotFound is returned when a bucket exists but the requested
// row does not.
var ErrContentNotFound = errors.New("storage: content not found")
