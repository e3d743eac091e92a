// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package crosstab

import (
	"context"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"golang.org/x/time/rate"
)

// DefaultActivityInterval is the minimum spacing of ActivityUpdate messages.
const DefaultActivityInterval = 5 * time.Second

// ActivityPublisher shares local activity with the other tabs of the same
// login, at most once per interval.
type ActivityPublisher struct {
	sync    *Synchronizer
	limiter *rate.Limiter
}

// NewActivityPublisher rate limits ActivityUpdate broadcasts through s.
func NewActivityPublisher(s *Synchronizer, interval time.Duration) *ActivityPublisher {
	if interval <= 0 {
		interval = DefaultActivityInterval
	}
	return &ActivityPublisher{sync: s, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Publish broadcasts an ActivityUpdate for source unless one went out within
// the interval. It reports whether a message was sent.
func (p *ActivityPublisher) Publish(ctx context.Context, source string) bool {
	if !p.limiter.AllowN(p.sync.opts.Clock.Now(), 1) {
		return false
	}
	err := p.sync.Broadcast(ctx, model.CrossTabMessage{
		Type:    model.MsgActivityUpdate,
		Payload: map[string]string{model.PayloadSource: source},
	})
	if err != nil {
		p.sync.logger.Debug().Err(err).Str(log.FieldSource, source).Msg("activity broadcast failed")
		return false
	}
	return true
}
