// Package locate obtains a single GPS fix under a bounded, degrading-accuracy
// retry policy.
//
// The policy is a table of tiers tried in order. A tier that times out or
// finds no position hands over to the next, more forgiving tier; any other
// failure (permission denied above all) stops immediately because retrying
// cannot fix it. Acquire never returns an error: every failure folds into nil
// and the caller decides what to do without a fix.
package locate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fieldsync/anchor/pkg/core"
)

// Tier is one row of the acquisition policy.
type Tier struct {
	Name         string
	HighAccuracy bool
	Timeout      time.Duration
	MaxCacheAge  time.Duration
}

// DefaultPolicy bounds worst-case latency to two timeouts.
var DefaultPolicy = []Tier{
	{Name: "high", HighAccuracy: true, Timeout: 20 * time.Second, MaxCacheAge: 5 * time.Second},
	{Name: "relaxed", HighAccuracy: false, Timeout: 20 * time.Second, MaxCacheAge: 10 * time.Minute},
}

// Retryable reports whether a failure class moves on to the next tier.
func Retryable(code ErrorCode) bool {
	return code == Timeout || code == PositionUnavailable
}

// Dependencies holds all dependencies for the Acquirer.
type Dependencies struct {
	Source Source
	Policy []Tier // DefaultPolicy when empty
	Logger *slog.Logger
}

// Acquirer implements the tiered acquisition policy.
type Acquirer struct {
	source   Source
	policy   []Tier
	logger   *slog.Logger
	attempts metric.Int64Counter
}

// New creates an Acquirer. A nil Source makes every Acquire return nil.
func New(deps Dependencies) (*Acquirer, error) {
	policy := deps.Policy
	if len(policy) == 0 {
		policy = DefaultPolicy
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempts, err := meter().Int64Counter(
		"locate.attempts",
		metric.WithDescription("Position requests by tier and result"),
	)
	if err != nil {
		return nil, err
	}

	return &Acquirer{
		source:   deps.Source,
		policy:   policy,
		logger:   logger,
		attempts: attempts,
	}, nil
}

// Policy returns the tiers in the order they are tried.
func (a *Acquirer) Policy() []Tier {
	return append([]Tier(nil), a.policy...)
}

// Acquire returns a fix or nil.
func (a *Acquirer) Acquire(ctx context.Context) *core.Coordinate {
	if a.source == nil {
		a.logger.Debug("No position source configured")
		return nil
	}

	for _, tier := range a.policy {
		coord, err := a.attempt(ctx, tier)
		if err == nil {
			a.record(ctx, tier, "ok")
			a.logger.Debug("Position acquired", "tier", tier.Name)
			return &coord
		}

		code := CodeOf(err)
		a.record(ctx, tier, code.String())
		if !Retryable(code) {
			a.logger.Warn("Position request failed, not retrying", "tier", tier.Name, "code", code.String(), "error", err)
			return nil
		}
		a.logger.Info("Position request failed", "tier", tier.Name, "code", code.String(), "error", err)

		// The caller gave up; further tiers would fail the same way.
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (a *Acquirer) attempt(ctx context.Context, tier Tier) (core.Coordinate, error) {
	tctx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	req := Request{
		HighAccuracy: tier.HighAccuracy,
		Timeout:      tier.Timeout,
		MaxCacheAge:  tier.MaxCacheAge,
	}
	coord, err := a.source.CurrentPosition(tctx, req)
	if err != nil {
		return core.Coordinate{}, err
	}
	// A source that answered after the deadline is treated as having timed out.
	if tctx.Err() != nil {
		return core.Coordinate{}, NewPositionError(Timeout, tctx.Err())
	}
	return coord, nil
}

func (a *Acquirer) record(ctx context.Context, tier Tier, result string) {
	a.attempts.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("tier", tier.Name),
		attribute.String("result", result),
	))
}
