package provider

import (
	"context"
	"time"

	"ts-data/internal/model"
)

// DataProvider is the abstraction used by the application when accessing a data source.
// Implementations are responsible for their own pagination, retries and resource cleanup.
type DataProvider interface {
	GetName() string
	// FetchBars returns the completed bars of symbol with time >= start.
	FetchBars(ctx context.Context, symbol string, start time.Time) (model.Series, error)
	Close() error
}
