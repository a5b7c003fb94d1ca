package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/schema"
)

// DefaultDeadThreshold is how long a plant may stay overdue before it is
// considered dead.
const DefaultDeadThreshold = 7 * 24 * time.Hour

// Status classifies a plant at a point in time.
type Status int

const (
	// StatusNotYetDue means the plant's timeout is in the future.
	StatusNotYetDue Status = iota
	// StatusActionable means the plant is due and not dead.
	StatusActionable
	// StatusExpired means the plant has been overdue for at least the dead
	// threshold.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActionable:
		return "actionable"
	case StatusNotYetDue:
		return "not-yet-due"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// StatusOf classifies a plant whose next water time is timeout (unix
// seconds). A plant is actionable iff now >= timeout and
// now - timeout < deadThreshold; the upper bound is exclusive.
func StatusOf(timeout int64, now time.Time, deadThreshold time.Duration) Status {
	next := time.Unix(timeout, 0)
	if now.Before(next) {
		return StatusNotYetDue
	}
	if now.Sub(next) >= deadThreshold {
		return StatusExpired
	}
	return StatusActionable
}

// Evaluation is the outcome of classifying a set of plants.
type Evaluation struct {
	// Actionable plants, oldest timeout first, lower level first on ties.
	Actionable []discovery.Plant
	NotYetDue  int
	Expired    int
}

// Evaluate classifies plants and orders the actionable ones. The input is
// not modified.
func Evaluate(plants []discovery.Plant, now time.Time, deadThreshold time.Duration) Evaluation {
	var eval Evaluation
	for _, p := range plants {
		switch StatusOf(p.WaterTimeout, now, deadThreshold) {
		case StatusActionable:
			eval.Actionable = append(eval.Actionable, p)
		case StatusNotYetDue:
			eval.NotYetDue++
		case StatusExpired:
			eval.Expired++
		}
	}
	SortByPriority(eval.Actionable)
	return eval
}

// SortByPriority orders plants by water timeout, then level. The sort is
// stable, so plants with equal keys keep their discovery order.
func SortByPriority(plants []discovery.Plant) {
	slices.SortStableFunc(plants, func(a, b discovery.Plant) int {
		return comparePriority(&a.Plant, &b.Plant)
	})
}

func comparePriority(a, b *schema.Plant) int {
	if c := cmp.Compare(a.WaterTimeout, b.WaterTimeout); c != 0 {
		return c
	}
	return cmp.Compare(a.Level, b.Level)
}
