package dto

import (
	"time"

	"github.com/olyamironova/quote-engine/internal/domain"
)

type SymbolURI struct {
	Symbol string `uri:"symbol" binding:"required"`
}

type ExchangeSymbolURI struct {
	ExchangeName string `uri:"exchange_name" binding:"required"`
	Symbol       string `uri:"symbol" binding:"required"`
}

type ExchangeURI struct {
	ExchangeName string `uri:"exchange_name" binding:"required"`
}

type HistoricalQuery struct {
	TimeFrame string `form:"time_frame"`
	Since     *int64 `form:"since" binding:"omitempty,min=0"` // unix ms
}

type TickerDepthQuery struct {
	Depth int `form:"depth" binding:"omitempty,min=1,max=1000"`
}

type ExchangeKeyRequest struct {
	ExchangeName string `json:"exchange_name" binding:"required"`
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
}

func (r ExchangeKeyRequest) Credential() domain.ExchangeCredential {
	return domain.ExchangeCredential{ExchangeName: r.ExchangeName, APIKey: r.APIKey, APISecret: r.APISecret}
}

type BulkExchangeKeyRequest struct {
	Keys []ExchangeKeyRequest `json:"keys" binding:"required,min=1,dive"`
}

type ExchangeKeysResponse struct {
	Added int `json:"added"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoricalResponse struct {
	Symbol    string          `json:"symbol"`
	TimeFrame string          `json:"time_frame"`
	Since     *int64          `json:"since,omitempty"`
	Candles   []domain.Candle `json:"candles"`
}

type MarketsResponse struct {
	Exchange string          `json:"exchange"`
	Count    int             `json:"count"`
	Markets  []domain.Market `json:"markets"`
}

type ExchangesResponse struct {
	Supported  []string `json:"supported"`
	Configured []string `json:"configured"`
	Default    string   `json:"default"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Cache     string    `json:"cache"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}
