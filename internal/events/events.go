// Package events publishes resource state transitions to a message bus.
//
// Every transition the scheduler records becomes one Event, encoded as JSON
// and published on <prefix>.<environment>.<status>. The resource id travels
// in the payload because ids contain characters that are not valid in
// subject tokens.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

// Event is the payload of one state transition.
type Event struct {
	Environment string           `json:"environment"`
	Version     int64            `json:"version"`
	Resource    model.ResourceID `json:"resource"`
	scheduler.ResourceState
}

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Sink adapts a Publisher to scheduler.StateSink.
type Sink struct {
	pub    Publisher
	prefix string
}

// NewSink returns a Sink publishing under prefix.
func NewSink(pub Publisher, prefix string) *Sink {
	return &Sink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// RecordState implements scheduler.StateSink.
func (s *Sink) RecordState(ctx context.Context, env string, version int64, id model.ResourceID, st scheduler.ResourceState) error {
	data, err := json.Marshal(Event{
		Environment:   env,
		Version:       version,
		Resource:      id,
		ResourceState: st,
	})
	if err != nil {
		return fmt.Errorf("encode state event: %w", err)
	}
	return s.pub.Publish(ctx, Subject(s.prefix, env, st.Status), data)
}

// Subject builds the subject for a transition. Characters that NATS treats
// specially are replaced in the environment token.
func Subject(prefix, env string, status scheduler.Status) string {
	return prefix + "." + subjectToken(env) + "." + string(status)
}

// Wildcard returns the subject filter matching every event of env, or of
// all environments when env is empty.
func Wildcard(prefix, env string) string {
	if env == "" {
		return prefix + ".>"
	}
	return prefix + "." + subjectToken(env) + ".>"
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

var _ scheduler.StateSink = (*Sink)(nil)
