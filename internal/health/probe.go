package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

// Probe checks that one subsystem can be constructed and started.
type Probe struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// RunProbes runs every probe in order and records the outcome in m.
// Failing required probes mark their component Unhealthy and are returned
// joined; optional failures only degrade.
func RunProbes(ctx context.Context, m *Monitor, probes []Probe) error {
	var errs []error
	for _, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := p.Check(pctx)
		cancel()

		switch {
		case err == nil:
			m.Update(p.Name, Healthy, fmt.Sprintf("ok in %s", time.Since(start).Round(time.Millisecond)))
		case p.Required:
			m.Update(p.Name, Unhealthy, err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		default:
			m.Update(p.Name, Degraded, err.Error())
		}
	}
	return errors.Join(errs...)
}
