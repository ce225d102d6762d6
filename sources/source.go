package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grant-scout/models"
)

// Source ist das Interface, das jeder Quell-Adapter (UKRI, NIHR, Catapult)
// implementieren muss. Fetch liefert Treffer über emit, sobald sie
// normalisiert sind; bei einem Fehler sind bereits emittierte Treffer
// gültig und werden vom Orchestrator trotzdem upserted. Ein erneuter
// Fetch-Aufruf beginnt wieder am Paginierungs-Anfang der Quelle.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest, emit func(models.CanonicalGrant)) error
}

// FetchRequest parametrisiert einen Adapter-Lauf.
type FetchRequest struct {
	// Since ist ein optionaler Hinweis; die Quellen unterstützen keine
	// serverseitige Filterung, Adapter dürfen ihn ignorieren.
	Since *time.Time

	// Known: bekannte Fingerprints je URL aus dem Bestand, damit Adapter
	// neu vs. bekannt unterscheiden und zählen können.
	Known map[string]string
}

// AdapterError ist der typisierte Fehler eines Quell-Adapters.
// Retryable steuert, ob der Orchestrator den Quell-Lauf wiederholt.
type AdapterError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *AdapterError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("adapter %s: %s: %v", e.Source, kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError baut einen AdapterError.
func NewAdapterError(source string, retryable bool, err error) *AdapterError {
	return &AdapterError{Source: source, Retryable: retryable, Err: err}
}

// IsRetryable meldet, ob ein Fehler als wiederholbar markiert ist.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}
