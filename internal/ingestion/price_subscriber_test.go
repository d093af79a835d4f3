package ingestion

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"UsdnLedger/internal/observability"

	sdkmath "cosmossdk.io/math"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// fakeMsg implements the parts of jetstream.Msg the subscriber touches.
type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	acked   bool
	naked   bool
	termed  bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

func (m *fakeMsg) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMsg) Nak() error {
	m.naked = true
	return nil
}

func (m *fakeMsg) Term() error {
	m.termed = true
	return nil
}

type recordedPrice struct {
	price sdkmath.Int
	at    time.Time
}

type fakeFeed struct {
	prices []recordedPrice
	err    error
}

func (f *fakeFeed) Publish(price sdkmath.Int, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.prices = append(f.prices, recordedPrice{price: price, at: at})
	return nil
}

func priceMsg(seq int, price string) *fakeMsg {
	return &fakeMsg{
		subject: "usdn.prices.pyth",
		data:    []byte(`{"sequence":` + strconv.Itoa(seq) + `,"price":"` + price + `","publish_time_ms":1700000000000}`),
	}
}

func newTestSubscriber(feed PriceSink) (*PriceSubscriber, *observability.Metrics) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	return NewPriceSubscriber(nil, feed, metrics, zerolog.Nop()), metrics
}

func TestPriceSubscriber_FeedsAcceptedPrices(t *testing.T) {
	feed := &fakeFeed{}
	ps, metrics := newTestSubscriber(feed)

	first := priceMsg(1, "2000")
	ps.handle(first)
	assert.True(t, first.acked)

	dup := priceMsg(1, "2001")
	ps.handle(dup)
	assert.True(t, dup.acked, "stale prices are acked without effect")

	next := priceMsg(3, "2010.5")
	ps.handle(next)
	assert.True(t, next.acked)

	if assert.Len(t, feed.prices, 2) {
		assert.Equal(t, "2010500000000000000000", feed.prices[1].price.String())
		assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), feed.prices[1].at)
	}
	assert.Equal(t, int64(1), ps.Tracker().Gaps("pyth"))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PricesIngested.WithLabelValues("pyth")))
}

func TestPriceSubscriber_TerminatesBadMessages(t *testing.T) {
	feed := &fakeFeed{}
	ps, _ := newTestSubscriber(feed)

	bad := &fakeMsg{subject: "usdn.prices.pyth", data: []byte(`{"price":"nope"}`)}
	ps.handle(bad)
	assert.True(t, bad.termed)
	assert.False(t, bad.acked)

	feed.err = errors.New("rejected")
	rejected := priceMsg(1, "2000")
	ps.handle(rejected)
	assert.True(t, rejected.termed)
	assert.Empty(t, feed.prices)
}
