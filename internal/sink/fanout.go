// Package sink combines progress sinks.
package sink

import (
	"context"
	"errors"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// Fanout hands each event to every sink in order. A failing sink does not
// stop the others.
type Fanout struct {
	sinks []ports.ProgressSink
}

var _ ports.ProgressSink = (*Fanout)(nil)

// NewFanout skips nil sinks.
func NewFanout(sinks ...ports.ProgressSink) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

// Publish delivers the event and joins any errors.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
