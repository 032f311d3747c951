package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
)

func TestTelegramSendsMarkdownForm(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		got = map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "TOKEN", ChatID: "42"}, nil)
	if err := tg.Notify(context.Background(), "*hello*"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*hello*" || got["parse_mode"] != "Markdown" {
		t.Fatalf("unexpected form %v", got)
	}
}

func TestTelegramReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "T", ChatID: "1"}, nil)
	err := tg.Notify(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
}

type capturePublisher struct {
	msgType string
	raw     json.RawMessage
	err     error
}

func (c *capturePublisher) PublishMessage(_ context.Context, msgType string, p interface{}) error {
	if c.err != nil {
		return c.err
	}
	c.msgType = msgType
	c.raw, _ = json.Marshal(p)
	return nil
}

type recordNotifier struct {
	msgs []string
	err  error
}

func (r *recordNotifier) Notify(_ context.Context, msg string) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestQueuedRoundTripsThroughJob(t *testing.T) {
	pub := &capturePublisher{}
	if err := NewQueued(pub).Notify(context.Background(), "trade closed"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if pub.msgType != MessageType {
		t.Fatalf("type = %q", pub.msgType)
	}

	sink := &recordNotifier{}
	job := Job(sink)
	if job.Type() != MessageType {
		t.Fatalf("job type = %q", job.Type())
	}
	if err := job.Handle(context.Background(), pub.raw); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.msgs) != 1 || sink.msgs[0] != "trade closed" {
		t.Fatalf("delivered %v", sink.msgs)
	}
}

func TestJobSurfacesDeliveryError(t *testing.T) {
	sink := &recordNotifier{err: errors.New("telegram down")}
	if err := Job(sink).Handle(context.Background(), json.RawMessage(`{"text":"x"}`)); err == nil {
		t.Fatalf("delivery error should reach the queue for retry")
	}
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	sink := &recordNotifier{err: errors.New("boom")}
	BestEffort(context.Background(), sink, nil, "x")
	BestEffort(context.Background(), nil, nil, "y")
	if len(sink.msgs) != 1 {
		t.Fatalf("msgs = %v", sink.msgs)
	}
}

func TestTradeClosedMessage(t *testing.T) {
	msg := TradeClosed(models.ClosedTrade{
		Symbol: "BTCUSDT", Direction: models.ActionBuy, EntryPrice: 100, ExitPrice: 110,
		PnL: 0.1, Duration: 90*time.Second + 300*time.Millisecond, ExitReason: models.ExitTakeProfit,
	})
	for _, want := range []string{"Take Profit", "`BTCUSDT`", "`110.00`", "`1m30s`"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q misses %q", msg, want)
		}
	}
}
