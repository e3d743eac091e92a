// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process publish/subscribe backbone. Lifecycle events
// and same-process cross-tab messages travel over it.
package bus

import "context"

// Message is an opaque payload delivered to subscribers.
type Message any

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus publishes messages to every subscriber of a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Well-known topics.
const (
	TopicLifecycle = "session.lifecycle"
	TopicCrossTab  = "session.crosstab"
)
