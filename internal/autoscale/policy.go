// Package autoscale decides how many worker containers should run based on
// the sampled queue depth and drives the lifecycle manager toward that size.
package autoscale

import "fmt"

// Action is the outcome of one scaling decision.
type Action string

// Scaling actions.
const (
	ActionNone Action = "none"
	ActionUp   Action = "up"
	ActionDown Action = "down"
	// ActionHold means shrinking was wanted but the batch has not drained.
	ActionHold Action = "hold"
)

// ReadyFunc reports whether the fleet may shrink.
type ReadyFunc func() (bool, error)

// Policy holds the bounds and thresholds of the scaling rules.
type Policy struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   int64
	ScaleDownThreshold int64
}

// DefaultPolicy returns the stock bounds: 1..15 workers, grow above 1, shrink at 0.
func DefaultPolicy() Policy {
	return Policy{MinWorkers: 1, MaxWorkers: 15, ScaleUpThreshold: 1, ScaleDownThreshold: 0}
}

// Validate rejects inverted bounds or thresholds.
func (p Policy) Validate() error {
	if p.MinWorkers < 0 || p.MaxWorkers < p.MinWorkers {
		return fmt.Errorf("invalid worker bounds [%d, %d]", p.MinWorkers, p.MaxWorkers)
	}
	if p.ScaleDownThreshold > p.ScaleUpThreshold {
		return fmt.Errorf("scale-down threshold %d above scale-up threshold %d", p.ScaleDownThreshold, p.ScaleUpThreshold)
	}
	return nil
}

// Decision is what Decide chose and why. Drained is set only when readiness
// was consulted and allowed the shrink.
type Decision struct {
	Action  Action `json:"action"`
	Current int    `json:"current"`
	Target  int    `json:"target"`
	Depth   int64  `json:"depth"`
	Reason  string `json:"reason"`
	Drained bool   `json:"drained"`
}

// Decide applies the scaling rules. It moves at most one worker per call and
// only consults ready when a scale-down is otherwise warranted. Shrinking from
// above the maximum skips readiness unless the step would land on the floor.
func (p Policy) Decide(depth int64, current int, ready ReadyFunc) Decision {
	d := Decision{Action: ActionNone, Current: current, Target: current, Depth: depth}

	switch {
	case current < p.MinWorkers:
		d.Action, d.Target, d.Reason = ActionUp, current+1, "below minimum"
	case current > p.MaxWorkers && current-1 > p.MinWorkers:
		d.Action, d.Target, d.Reason = ActionDown, current-1, "above maximum"
	case current > p.MaxWorkers:
		shrinkIfReady(&d, ready, "above maximum")
	case depth > p.ScaleUpThreshold && current < p.MaxWorkers:
		d.Action, d.Target, d.Reason = ActionUp, current+1, "queue above scale-up threshold"
	case depth <= p.ScaleDownThreshold && current > p.MinWorkers:
		shrinkIfReady(&d, ready, "queue at or below scale-down threshold")
	default:
		d.Reason = "within thresholds"
	}
	return d
}

func shrinkIfReady(d *Decision, ready ReadyFunc, reason string) {
	ok, err := ready()
	switch {
	case err != nil:
		d.Action, d.Reason = ActionHold, "readiness unavailable: "+err.Error()
	case !ok:
		d.Action, d.Reason = ActionHold, "batch still in flight"
	default:
		d.Action, d.Target, d.Reason, d.Drained = ActionDown, d.Current-1, reason, true
	}
}
