package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// RawMessage is a message taken off the bus, before parsing.
type RawMessage struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// PriceUpdate is one oracle observation, scaled to price decimals.
type PriceUpdate struct {
	Source      string
	Sequence    int64
	Price       sdkmath.Int
	PublishTime time.Time
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Prices are decimal
// strings so that 18 decimals survive the trip.

type priceUpdateJSON struct {
	Source        string `json:"source"`
	Sequence      int64  `json:"sequence"`
	Price         string `json:"price"`
	PublishTimeMs int64  `json:"publish_time_ms"`
}

// ParsePriceUpdate decodes a price message. When the payload carries no
// source, the last subject token is used (usdn.prices.<source>).
func ParsePriceUpdate(raw RawMessage) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	source := j.Source
	if source == "" {
		source = sourceFromSubject(raw.Subject)
	}
	if source == "" {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: missing source")
	}
	if j.Sequence < 0 {
		return PriceUpdate{}, fmt.Errorf("parse sequence: negative %d", j.Sequence)
	}
	if j.PublishTimeMs <= 0 {
		return PriceUpdate{}, fmt.Errorf("parse publish_time_ms: got %d", j.PublishTimeMs)
	}

	price, err := fpmath.ParseDecimal(j.Price, fpmath.PriceDecimals)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("parse price: must be positive, got %q", j.Price)
	}

	return PriceUpdate{
		Source:      source,
		Sequence:    j.Sequence,
		Price:       price,
		PublishTime: time.UnixMilli(j.PublishTimeMs).UTC(),
	}, nil
}

func sourceFromSubject(subject string) string {
	if !strings.HasPrefix(subject, PriceSubjectPrefix) {
		return ""
	}
	return strings.TrimPrefix(subject, PriceSubjectPrefix)
}
