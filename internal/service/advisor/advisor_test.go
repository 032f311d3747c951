package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SignalFuse/internal/domain/models"
)

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    models.Advice
		wantErr bool
	}{
		{
			name:    "plain",
			content: "Decision: BUY\nConfidence: 0.8123\nReason: momentum and sentiment agree",
			want:    models.Advice{Action: models.ActionBuy, Confidence: 0.812, Reason: "momentum and sentiment agree"},
		},
		{
			name:    "lowercase with preamble",
			content: "Sure.\n**Decision:** sell\nConfidence: 1.7\n",
			want:    models.Advice{Action: models.ActionSell, Confidence: 1},
		},
		{
			name:    "negative confidence",
			content: "Decision: HOLD\nConfidence: -0.2",
			want:    models.Advice{Action: models.ActionHold, Confidence: 0},
		},
		{name: "unknown decision", content: "Decision: WAIT\nConfidence: 0.5", wantErr: true},
		{name: "missing decision", content: "Confidence: 0.5", wantErr: true},
		{name: "bad confidence", content: "Decision: BUY\nConfidence: high", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseReply(c.content)
			if c.wantErr {
				if !errors.Is(err, ErrMalformedReply) {
					t.Fatalf("err = %v, want ErrMalformedReply", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReply: %v", err)
			}
			if got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestPromptListsSignals(t *testing.T) {
	p := Prompt(models.SignalSet{
		models.SignalLSTM:      models.Discrete(models.ActionBuy),
		models.SignalSentiment: models.Continuous(0.25),
	})
	for _, want := range []string{"LSTM: BUY", "XGBoost: N/A", "Sentiment score: 0.250", "Liquidity score: 1.000", "Decision: <BUY/SELL/HOLD>"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt misses %q:\n%s", want, p)
		}
	}
}

func TestAdviseCallsChatCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Decision: SELL\nConfidence: 0.66\nReason: weak liquidity"}}]}`))
	}))
	defer srv.Close()

	adv, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"}).Advise(context.Background(), models.SignalSet{})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if adv.Action != models.ActionSell || adv.Confidence != 0.66 || adv.Reason != "weak liquidity" {
		t.Fatalf("advice = %+v", adv)
	}
}

func TestAdviseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Advise(context.Background(), models.SignalSet{})
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("err = %v", err)
	}
}
