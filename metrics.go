package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"impulse-server/game"
)

const instrumentationName = "impulse-server"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics counts what happens inside every match. It subscribes to each
// engine's event bus like any other observer. Instruments come from the
// global provider and are no-ops until an SDK is installed.
type Metrics struct {
	dispatched metric.Int64Counter
	rejected   metric.Int64Counter
	eliminated metric.Int64Counter
	turns      metric.Int64Counter
	finished   metric.Int64Counter
}

// NewMetrics creates the counters
func NewMetrics() (*Metrics, error) {
	m := meter()
	var (
		mt  Metrics
		err error
	)
	if mt.dispatched, err = m.Int64Counter("impulse.commands.dispatched",
		metric.WithDescription("Commands submitted to an engine")); err != nil {
		return nil, err
	}
	if mt.rejected, err = m.Int64Counter("impulse.commands.rejected",
		metric.WithDescription("Commands refused, by reason")); err != nil {
		return nil, err
	}
	if mt.eliminated, err = m.Int64Counter("impulse.entities.eliminated",
		metric.WithDescription("Entities deactivated, by cause")); err != nil {
		return nil, err
	}
	if mt.turns, err = m.Int64Counter("impulse.turns.completed",
		metric.WithDescription("Turns that settled")); err != nil {
		return nil, err
	}
	if mt.finished, err = m.Int64Counter("impulse.matches.finished",
		metric.WithDescription("Games that reached gameover")); err != nil {
		return nil, err
	}
	return &mt, nil
}

// ObserveActiveMatches registers the active-match gauge
func (mt *Metrics) ObserveActiveMatches(count func() int) error {
	_, err := meter().Int64ObservableGauge("impulse.matches.active",
		metric.WithDescription("Matches currently running"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}))
	return err
}

// Observe is an engine event handler
func (mt *Metrics) Observe(ev game.Event) {
	if mt == nil {
		return
	}
	ctx := context.Background()
	switch p := ev.Payload.(type) {
	case game.Dispatched:
		mt.dispatched.Add(ctx, 1)
	case game.InvalidAction:
		mt.Reject(p.Message)
	case game.EntityOut:
		mt.eliminated.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", "out")))
	case game.EntityKilled:
		mt.eliminated.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", "killed")))
	case game.TurnChanged:
		mt.turns.Add(ctx, 1)
	case game.GameOver:
		mt.finished.Add(ctx, 1)
	}
}

// Reject counts a refused command; the match driver also calls it for
// commands it refuses before they reach the engine.
func (mt *Metrics) Reject(reason string) {
	if mt == nil {
		return
	}
	mt.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
