package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kline is a single Binance candlestick. The REST API returns each
// kline as a positional JSON array with numbers encoded as strings,
// so decoding is done by hand.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// UnmarshalJSON decodes the positional kline tuple
// [openTime, open, high, low, close, volume, closeTime, ...].
func (k *Kline) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("kline is not an array: %w", err)
	}
	if len(fields) < 7 {
		return fmt.Errorf("kline has %d fields, want at least 7", len(fields))
	}

	var openMillis, closeMillis int64
	if err := json.Unmarshal(fields[0], &openMillis); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(fields[6], &closeMillis); err != nil {
		return fmt.Errorf("kline close time: %w", err)
	}
	k.OpenTime = time.UnixMilli(openMillis).UTC()
	k.CloseTime = time.UnixMilli(closeMillis).UTC()

	for i, dst := range []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		var s string
		if err := json.Unmarshal(fields[i+1], &s); err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
		*dst = v
	}

	return nil
}

// TickerPrice is the /api/v3/ticker/price response.
type TickerPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}
