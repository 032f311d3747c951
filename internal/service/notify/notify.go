package notify

import (
	"context"
	"encoding/json"
	"fmt"

	domrepo "SignalFuse/internal/domain/repository"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/queue"
)

// MessageType is the queue message type carrying notifications.
const MessageType = "notify"

type payload struct {
	Text string `json:"text"`
}

// Queued hands messages to the Redis queue so a worker delivers them with
// retry and dead-lettering.
type Queued struct {
	pub queue.Publisher
}

func NewQueued(pub queue.Publisher) *Queued {
	return &Queued{pub: pub}
}

func (q *Queued) Notify(ctx context.Context, msg string) error {
	if err := q.pub.PublishMessage(ctx, MessageType, payload{Text: msg}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Job returns the queue job that drains notifications into sink.
func Job(sink domrepo.Notifier) queue.Job {
	return queue.JobFunc{
		JobName: "telegram-notify",
		MsgType: MessageType,
		Fn: func(ctx context.Context, raw json.RawMessage) error {
			p, err := queue.ParsePayload[payload](raw)
			if err != nil {
				return err
			}
			return sink.Notify(ctx, p.Text)
		},
	}
}

// Log writes notifications to the application log. Used when no chat
// transport is configured.
type Log struct {
	l *applogger.Logger
}

func NewLog(l *applogger.Logger) *Log {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Log{l: l}
}

func (n *Log) Notify(_ context.Context, msg string) error {
	n.l.Info("notification", applogger.String("text", msg))
	return nil
}

// BestEffort sends msg and only logs a delivery failure.
func BestEffort(ctx context.Context, n domrepo.Notifier, l *applogger.Logger, msg string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil && l != nil {
		l.Warn("notification failed", applogger.Error(err))
	}
}
