package services

import (
	"context"
	"fmt"
	"time"

	"supermarket-scanner/models"

	"github.com/rs/zerolog"
)

// freshnessWindow is how long an unchanged observation suppresses a new
// history row. Older records are re-recorded even when identical, to
// keep the audit trail continuous.
const freshnessWindow = 24 * time.Hour

// RecordFetcher provides the most recent stored price record for a
// (market, product) pair.
type RecordFetcher interface {
	LatestPriceRecord(ctx context.Context, market, productName string) (*models.PriceRecord, error)
}

// GateOption is custom configuration of Gate.
type GateOption func(g *Gate)

// WithClock replaces the gate's wall clock.
func WithClock(clock Clock) GateOption {
	return func(g *Gate) {
		g.clock = clock
	}
}

// Gate decides whether a fetched observation is materially new compared
// to the last stored record. It never edits history; it only answers
// "append or not".
type Gate struct {
	store  RecordFetcher
	clock  Clock
	logger zerolog.Logger
}

// NewGate returns new Gate.
func NewGate(store RecordFetcher, logger zerolog.Logger, ops ...GateOption) *Gate {
	gate := &Gate{
		store:  store,
		clock:  SystemClock{},
		logger: logger,
	}
	for _, op := range ops {
		op(gate)
	}
	return gate
}

// Check returns the existing record when no write is needed: a prior
// record exists, is younger than 24 hours, and price, comment and
// multibuy price all match the new observation. It returns nil when a
// new record should be appended.
func (g *Gate) Check(ctx context.Context, market, productName, price string, multibuyPrice *string, comment string) (*models.PriceRecord, error) {
	last, err := g.store.LatestPriceRecord(ctx, market, productName)
	if err != nil {
		return nil, fmt.Errorf("can't read latest price record: %w", err)
	}
	if last == nil {
		return nil, nil
	}

	if g.clock.Now().Sub(last.Timestamp) < freshnessWindow &&
		last.Price == price &&
		last.Comment == comment &&
		equalMultibuy(last.MultibuyPrice, multibuyPrice) {
		return last, nil
	}

	g.logger.Info().
		Str("market", market).
		Str("product", productName).
		Str("old_price", last.Price).
		Str("new_price", price).
		Str("old_comment", last.Comment).
		Str("new_comment", comment).
		Str("old_multibuy", deref(last.MultibuyPrice)).
		Str("new_multibuy", deref(multibuyPrice)).
		Time("old_timestamp", last.Timestamp).
		Msg("price record is stale or changed")
	return nil, nil
}

func equalMultibuy(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
