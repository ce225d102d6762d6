package services

import (
	"context"
	"time"
)

// RetryPolicy beschreibt das Retry-Verhalten des Orchestrators als explizites
// Objekt statt ad-hoc-Schleifen je Quelle: Maximalversuche, Basis-Delay und
// Multiplikator (exponentielles Backoff), gedeckelt durch MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy: 3 Versuche, 2s Basis, Verdopplung, Deckel 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
	}
}

// Delay berechnet die Pause vor dem Versuch attempt (1-basiert; vor dem
// zweiten Versuch gilt das Basis-Delay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Wait blockiert für das Backoff vor attempt, bricht bei Cancel sofort ab.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
