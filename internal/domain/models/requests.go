package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type FuseRequest struct {
	Symbol     string    `json:"symbol" validate:"required"`
	Signals    SignalSet `json:"signals" validate:"required"`
	UseAdvisor bool      `json:"use_advisor"`
}

type QStateRequest struct {
	Technical string  `query:"technical" json:"technical" validate:"required,oneof=BUY SELL HOLD"`
	Sentiment float64 `query:"sentiment" json:"sentiment" validate:"gte=-1,lte=1"`
}

type DecisionSummaryRequest struct {
	Since string `query:"since" json:"since" default:"168h"`
}

type OpenTradesRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}

type PerformanceRequest struct {
	Since string `query:"since" json:"since" default:"24h"`
}

type CandlesRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1h"`
	Limit    int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}
