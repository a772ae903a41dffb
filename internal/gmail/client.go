package gmail

import (
	"context"
	"errors"
)

// Client is the narrow Gmail surface required by the purge pipeline.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
	BatchModify(ctx context.Context, ids []MessageID, ops ModifyOps) error
}

var (
	// ErrAuth marks credentials that are expired, revoked or lack the modify scope.
	ErrAuth = errors.New("gmail authentication failed")
	// ErrMalformedResponse marks a response missing fields the pipeline relies on.
	ErrMalformedResponse = errors.New("malformed gmail response")
)
