package connectwise

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold int, reset time.Duration) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, reset)
	b.now = clk.now
	return b, clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.allow())
		b.record(http.StatusBadGateway, nil)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.allow())
	b.record(0, errors.New("connection refused"))
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.allow(), ErrUnavailable)
}

func TestBreaker_ClientErrorsDoNotCount(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	for _, status := range []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusBadRequest} {
		require.NoError(t, b.allow())
		b.record(status, nil)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	require.NoError(t, b.allow())
	b.record(http.StatusServiceUnavailable, nil)
	require.NoError(t, b.allow())
	b.record(http.StatusOK, nil)
	require.NoError(t, b.allow())
	b.record(http.StatusServiceUnavailable, nil)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := testBreaker(1, time.Minute)
	var changes []string
	b.onChange = func(from, to BreakerState) { changes = append(changes, from.String()+"->"+to.String()) }

	require.NoError(t, b.allow())
	b.record(http.StatusInternalServerError, nil)
	require.Equal(t, BreakerOpen, b.State())

	clk.advance(time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())
	require.NoError(t, b.allow(), "first probe goes through")
	assert.ErrorIs(t, b.allow(), ErrUnavailable, "second caller waits for the probe")

	b.record(http.StatusInternalServerError, nil)
	assert.Equal(t, BreakerOpen, b.State(), "failed probe reopens")

	clk.advance(time.Minute)
	require.NoError(t, b.allow())
	b.record(http.StatusOK, nil)
	assert.Equal(t, BreakerClosed, b.State())

	assert.Equal(t, []string{
		"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed",
	}, changes)
}

func TestBreaker_ReleaseFreesProbe(t *testing.T) {
	b, clk := testBreaker(1, time.Second)
	require.NoError(t, b.allow())
	b.record(0, errors.New("reset by peer"))
	clk.advance(time.Second)

	require.NoError(t, b.allow())
	b.release()
	assert.NoError(t, b.allow())
}

func TestClient_BreakerShortCircuits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	hc := c.(*httpClient)
	hc.breaker = NewBreaker(2, time.Hour)

	for i := 0; i < 2; i++ {
		_, err := c.ListContacts(context.Background(), 1, 100)
		require.Error(t, err)
	}
	require.Equal(t, int32(2), calls.Load())

	_, err := c.GetCompany(context.Background(), 10)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open circuit sends nothing")
}
