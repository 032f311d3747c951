package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	pkgkafka "SignalFuse/pkg/kafka"
)

// KafkaSignalsHandler runs one cycle per signal snapshot pushed by an
// external producer.
type KafkaSignalsHandler struct {
	topic   string
	cycle   *Cycle
	metrics domrepo.Metrics
}

func NewKafkaSignalsHandler(topic string, cycle *Cycle, metrics domrepo.Metrics) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, cycle: cycle, metrics: metrics}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// SignalSnapshot is the message schema: {symbol, ts, signals:{lstm, xgb, ...}}.
type SignalSnapshot struct {
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"ts"`
	Signals   models.SignalSet `json:"signals"`
}

func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var m SignalSnapshot
	if err := json.Unmarshal(b, &m); err != nil {
		h.recordError("consumer_unmarshal")
		return fmt.Errorf("decode signal snapshot: %w", err)
	}
	m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
	if m.Symbol == "" {
		h.recordError("consumer_invalid")
		return fmt.Errorf("signal snapshot without symbol")
	}
	if m.Timestamp > 0 && h.metrics != nil {
		ts := m.Timestamp
		if ts > 1e11 { // ms
			ts /= 1000
		}
		h.metrics.RecordLatency("signal_e2e_seconds", time.Since(time.Unix(ts, 0)).Seconds())
	}
	if m.Signals == nil {
		m.Signals = models.SignalSet{}
	}
	h.cycle.RunWithSignals(ctx, m.Symbol, m.Signals)
	return nil
}

func (h *KafkaSignalsHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
