package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type notifyPayload struct {
	Text string `json:"text"`
}

func TestNewMessageEnvelope(t *testing.T) {
	msg, err := NewMessage("notify", notifyPayload{Text: "BTCUSDT closed"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.ID == "" || msg.Type != "notify" || msg.Attempts != 0 {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	raw, _ := json.Marshal(msg)
	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, err := ParsePayload[notifyPayload](back.Payload)
	if err != nil || p.Text != "BTCUSDT closed" {
		t.Fatalf("payload = %+v, %v", p, err)
	}
}

func TestNewMessageIDsAreUnique(t *testing.T) {
	a, _ := NewMessage("notify", 1)
	b, _ := NewMessage("notify", 1)
	if a.ID == b.ID {
		t.Fatalf("ids collide: %s", a.ID)
	}
}

func TestParsePayloadRejectsMismatch(t *testing.T) {
	if _, err := ParsePayload[notifyPayload](json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHandleRecoversPanics(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil, ModeConsumerOnly)
	job := JobFunc{JobName: "boom", MsgType: "x", Fn: func(context.Context, json.RawMessage) error {
		panic("bad payload")
	}}
	if err := q.handle(job, Message{Type: "x"}); err == nil {
		t.Fatalf("panic should surface as an error")
	}

	want := errors.New("send failed")
	job.Fn = func(context.Context, json.RawMessage) error { return want }
	if err := q.handle(job, Message{Type: "x"}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}
