package domain

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar from the market-data service.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks internal price consistency. A violation is a data-integrity
// error: the caller must abort the evaluation rather than silently coerce.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price at %s", ErrBadCandle, c.Timestamp.Format(time.RFC3339))
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("%w: low/high bounds broken at %s", ErrBadCandle, c.Timestamp.Format(time.RFC3339))
	}
	return nil
}
