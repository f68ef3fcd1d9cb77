package provider

import (
	"ts-data/internal/provider/tradestation"
)

// TradeStationProvider is a DataProvider implementation backed by the TradeStation API.
// It embeds *tradestation.Fetcher to expose fetch capabilities with minimal boilerplate.
type TradeStationProvider struct {
	*tradestation.Fetcher
}

var _ DataProvider = (*TradeStationProvider)(nil)

// NewTradeStationProvider wraps a configured fetcher.
func NewTradeStationProvider(f *tradestation.Fetcher) *TradeStationProvider {
	return &TradeStationProvider{Fetcher: f}
}

// GetName returns provider name
func (p *TradeStationProvider) GetName() string {
	return "TradeStation"
}
