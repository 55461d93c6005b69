package notify

import "errors"

// ErrPrefixCollision is returned by Tracking.RegisterPrefix when the new
// prefix would emit invalidations for keys already covered by one of the
// client's existing prefixes (spec.md §4.8).
var ErrPrefixCollision = errors.New("notify: prefix overlaps an existing tracked prefix for this client")
