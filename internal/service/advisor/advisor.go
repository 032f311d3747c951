package advisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/util"
)

// ErrMalformedReply is returned when the completion carries no usable decision.
var ErrMalformedReply = errors.New("advisor: malformed reply")

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client asks a chat-completion model for a BUY/SELL/HOLD opinion on a
// signal set.
type Client struct {
	cfg  Config
	http *resty.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey)
	return &Client{cfg: cfg, http: h}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Advise(ctx context.Context, signals models.SignalSet) (models.Advice, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: Prompt(signals)}},
			Temperature: c.cfg.Temperature,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return models.Advice{}, fmt.Errorf("advisor request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		return models.Advice{}, fmt.Errorf("advisor request: status %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return models.Advice{}, fmt.Errorf("%w: no choices", ErrMalformedReply)
	}
	return ParseReply(out.Choices[0].Message.Content)
}

// Prompt renders the signal set in the fixed layout the reply format relies on.
func Prompt(signals models.SignalSet) string {
	var b strings.Builder
	b.WriteString("You are a trading analyst. The current signals are:\n")
	fmt.Fprintf(&b, "- LSTM: %s\n", orNA(signals.Token(models.SignalLSTM)))
	fmt.Fprintf(&b, "- XGBoost: %s\n", orNA(signals.Token(models.SignalXGB)))
	fmt.Fprintf(&b, "- Technical analysis: %s\n", orNA(signals.Token(models.SignalTechnical)))
	fmt.Fprintf(&b, "- Sentiment score: %.3f\n", signals.Float(models.SignalSentiment, 0))
	fmt.Fprintf(&b, "- Liquidity score: %.3f\n", signals.Float(models.SignalLiquidity, 1))
	fmt.Fprintf(&b, "- Reinforcement learning: %s\n", orNA(signals.Token(models.SignalRL)))
	b.WriteString("\nWhat is the best action: BUY, SELL or HOLD?\n")
	b.WriteString("Answer only in this format:\n")
	b.WriteString("Decision: <BUY/SELL/HOLD>\nConfidence: <number between 0 and 1>\nReason: <short rationale>\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// ParseReply extracts the Decision, Confidence and Reason lines. Confidence
// is rounded to 3 dp and clamped to [0,1].
func ParseReply(content string) (models.Advice, error) {
	var (
		adv      models.Advice
		decision string
	)
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "Decision:"):
			decision = strings.TrimSpace(strings.SplitN(line, "Decision:", 2)[1])
		case strings.Contains(line, "Confidence:"):
			raw := strings.TrimSpace(strings.SplitN(line, "Confidence:", 2)[1])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) {
				return models.Advice{}, fmt.Errorf("%w: confidence %q", ErrMalformedReply, raw)
			}
			adv.Confidence = v
		case strings.Contains(line, "Reason:"):
			adv.Reason = strings.TrimSpace(strings.SplitN(line, "Reason:", 2)[1])
		}
	}
	a, ok := models.ParseAction(strings.Trim(decision, "*` "))
	if !ok {
		return models.Advice{}, fmt.Errorf("%w: decision %q", ErrMalformedReply, decision)
	}
	adv.Action = a
	adv.Confidence = util.Round(util.Clamp(adv.Confidence, 0, 1), 3)
	return adv, nil
}
