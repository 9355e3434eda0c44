// Package report delivers adapter failure events to external collectors.
// The dispatch layer is fail-open: a broken getter never stops the loop,
// it produces a Failure that lands here instead.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Failure describes one adapter breakage on a live page: which domain,
// which getter area, what happened, and optionally the offending markup.
type Failure struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	Area     string `json:"area"`
	Message  string `json:"message"`
	Fragment string `json:"fragment,omitempty"` // sanitized HTML excerpt
	At       int64  `json:"at"`                 // unix epoch ms
}

// Reporter delivers failures to a backend.
type Reporter interface {
	Report(ctx context.Context, f Failure) error
	Close() error
}

var fragmentPolicy = bluemonday.UGCPolicy()

// NewFailure builds a Failure with a fresh UUIDv7 ID and timestamp. The
// markup fragment is sanitized before it can leave the process; live pages
// contain scripts and tracking attributes that must not travel with a bug
// report.
func NewFailure(domain, area, message, fragment string) Failure {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Failure{
		ID:       id.String(),
		Domain:   domain,
		Area:     area,
		Message:  message,
		Fragment: fragmentPolicy.Sanitize(fragment),
		At:       time.Now().UnixMilli(),
	}
}
