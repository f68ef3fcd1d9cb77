package tradestation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ts-data/internal/model"
)

// BarRaw is one bar as returned by the barcharts endpoint.
// Prices and volume arrive string-encoded ("4500.25"), sometimes as plain numbers.
type BarRaw struct {
	TimeStamp   string          `json:"TimeStamp"` // RFC3339, UTC
	Open        decimal.Decimal `json:"Open"`
	High        decimal.Decimal `json:"High"`
	Low         decimal.Decimal `json:"Low"`
	Close       decimal.Decimal `json:"Close"`
	TotalVolume FlexibleInt64   `json:"TotalVolume"`
	BarStatus   string          `json:"BarStatus,omitempty"` // "Open" for a still-forming bar
}

// ToBar converts BarRaw to model.Bar
func (br BarRaw) ToBar() (model.Bar, error) {
	ts, err := time.Parse(time.RFC3339, br.TimeStamp)
	if err != nil {
		return model.Bar{}, fmt.Errorf("parse TimeStamp %q: %w", br.TimeStamp, err)
	}
	return model.Bar{
		Time:   ts.UTC(),
		Open:   br.Open.InexactFloat64(),
		High:   br.High.InexactFloat64(),
		Low:    br.Low.InexactFloat64(),
		Close:  br.Close.InexactFloat64(),
		Volume: br.TotalVolume.Int64(),
	}, nil
}

// BarsResponse is the barcharts response body.
type BarsResponse struct {
	Bars []BarRaw `json:"Bars"`
}

// ToBars converts the raw bars, failing on the first malformed timestamp.
func (r BarsResponse) ToBars() ([]model.Bar, error) {
	bars := make([]model.Bar, 0, len(r.Bars))
	for _, raw := range r.Bars {
		b, err := raw.ToBar()
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// FlexibleInt64 parses int, float (scientific notation) or a quoted number to int64
type FlexibleInt64 int64

// UnmarshalJSON parses int or float, quoted or not
func (f *FlexibleInt64) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*f = 0
			return nil
		}
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*f = FlexibleInt64(int64(val))
		return nil
	}

	var intVal int64
	if err := json.Unmarshal(data, &intVal); err == nil {
		*f = FlexibleInt64(intVal)
		return nil
	}

	var floatVal float64
	if err := json.Unmarshal(data, &floatVal); err == nil {
		*f = FlexibleInt64(int64(floatVal))
		return nil
	}

	return fmt.Errorf("cannot parse as int64: %s", string(data))
}

// Int64 returns int64 value
func (f FlexibleInt64) Int64() int64 {
	return int64(f)
}
