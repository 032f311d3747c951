package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"SignalFuse/internal/domain/models"
	domsvc "SignalFuse/internal/domain/service"
)

// HTTPSignalSource reads model outputs from the model service:
// POST /signals/{name} for discrete signals and POST /scores/{name} for
// continuous ones.
type HTTPSignalSource struct {
	base     *HTTPServiceBase
	attempts int
}

func NewHTTPSignalSource(baseURL string, timeout time.Duration) *HTTPSignalSource {
	return &HTTPSignalSource{base: NewHTTPServiceBase(baseURL, timeout), attempts: 2}
}

type signalRequest struct {
	Symbol string `json:"symbol"`
}

type signalResponse struct {
	Signal json.RawMessage `json:"signal"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPSignalSource) Signal(ctx context.Context, name, symbol string) (models.Action, error) {
	var out signalResponse
	if err := s.base.PostJSONWithRetry(ctx, "/signals/"+name, signalRequest{Symbol: symbol}, &out, s.attempts); err != nil {
		return "", fmt.Errorf("signal %s: %w", name, err)
	}
	a, err := decodeAction(out.Signal)
	if err != nil {
		return "", fmt.Errorf("signal %s: %w", name, err)
	}
	return a, nil
}

func (s *HTTPSignalSource) Score(ctx context.Context, name, symbol string) (float64, error) {
	var out scoreResponse
	if err := s.base.PostJSONWithRetry(ctx, "/scores/"+name, signalRequest{Symbol: symbol}, &out, s.attempts); err != nil {
		return 0, fmt.Errorf("score %s: %w", name, err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("score %s: missing value", name)
	}
	return *out.Score, nil
}

// decodeAction accepts either a token ("BUY") or a classifier label where
// 1 is BUY, -1 is SELL and 0 is HOLD. Unrecognised tokens are passed through
// so fusion can treat them as unknown.
func decodeAction(raw json.RawMessage) (models.Action, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("missing value")
	}
	var tok string
	if err := json.Unmarshal(raw, &tok); err == nil {
		if a, ok := models.ParseAction(tok); ok {
			return a, nil
		}
		return models.Action(strings.TrimSpace(tok)), nil
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", fmt.Errorf("unexpected value %s", raw)
	}
	switch {
	case n > 0:
		return models.ActionBuy, nil
	case n < 0:
		return models.ActionSell, nil
	default:
		return models.ActionHold, nil
	}
}

var _ domsvc.SignalSource = (*HTTPSignalSource)(nil)
