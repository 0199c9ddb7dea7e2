// Package media turns opaque media IDs into publicly fetchable URLs.
package media

import (
	"context"
	"errors"

	"github.com/maheshrc27/postflow/internal/platform"
)

// ErrResolve marks a media reference that cannot be turned into a URL.
// Publishing cannot succeed without it, so it is never retried.
var ErrResolve = errors.New("media unresolvable")

// Item is a resolved media reference.
type Item = platform.Media

type Resolver interface {
	// Resolve returns one item per id, in the same order.
	Resolve(ctx context.Context, ids []string) ([]Item, error)
}
