package fleet

import (
	"context"
	"math/rand"
	"time"
)

// Backoff liefert exponentiell wachsende Wartezeiten mit Zufallsanteil.
// Der Jitter verhindert, dass eine ganze Flotte nach einem Netzausfall
// im Gleichtakt wiederkommt.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // Anteil 0..1, additiv auf die Wartezeit
}

// Delay berechnet die Wartezeit für den n-ten Fehlversuch (ab 0).
// Ohne Jitter ist die Folge nicht-fallend und bei Max gedeckelt.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 60 * time.Second
	}

	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}

	return d
}

// wait blockiert für d und bricht sauber ab, wenn ctx vorher endet.
// true heißt: voll gewartet.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
