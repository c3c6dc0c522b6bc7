package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
)

// step is one phase of a multi-phase run
type step struct {
	title string
	// soft steps record a failure and let the run continue
	soft bool
	// service marks a soft step that provisions an auxiliary service
	service bool
	// done is printed when a soft step succeeds
	done string
	run  func(context.Context) error
}

// runSteps runs steps in order. A hard step failure aborts the run; the soft
// steps that failed are returned.
func (d *Deployer) runSteps(ctx context.Context, steps []step) (failed []step, err error) {
	logger := log.WithComponent("deploy").With().Str("environment", d.name).Logger()
	total := len(steps)

	for i, s := range steps {
		fmt.Fprintf(d.out, "\n[%d/%d] %s\n", i+1, total, s.title)
		d.events.PublishPhase(events.EventPhaseStarted, d.name, s.title, "")

		timer := metrics.NewTimer()
		err := s.run(ctx)
		timer.ObserveDurationVec(metrics.PhaseDuration, phaseLabel(s.title), metrics.Result(err))
		metrics.RecordPhase(s.title, err == nil, errMessage(err))
		fmt.Fprintf(d.out, "Time taken: %s\n", timer.Duration().Round(time.Second))

		if err != nil {
			d.events.PublishPhase(events.EventPhaseFailed, d.name, s.title, err.Error())
			if !s.soft {
				logger.Error().Err(err).Str("phase", s.title).Msg("Phase failed")
				fmt.Fprintf(d.out, "Failed to %s: %v\n", lowerFirst(s.title), err)
				return failed, fmt.Errorf("failed to %s: %w", lowerFirst(s.title), err)
			}
			logger.Error().Err(err).Str("phase", s.title).Msg("Phase failed; continuing")
			fmt.Fprintf(d.out, "Failed to %s: %v\n", lowerFirst(s.title), err)
			failed = append(failed, s)
			continue
		}

		d.events.PublishPhase(events.EventPhaseCompleted, d.name, s.title, "")
		if s.done != "" {
			fmt.Fprintln(d.out, s.done)
		}
	}
	return failed, nil
}

// reportFailures prints a WARNING! block for the soft steps that failed
func (d *Deployer) reportFailures(failed []step) {
	var services []string
	nodes := false
	for _, s := range failed {
		if s.service {
			services = append(services, s.title)
		} else {
			nodes = true
		}
	}
	if nodes {
		d.printProvisionWarning()
	}
	if len(services) > 0 {
		fmt.Fprintln(d.out)
		fmt.Fprintln(d.out, "WARNING!")
		fmt.Fprintln(d.out, "These auxiliary services failed to provision:")
		for _, title := range services {
			fmt.Fprintf(d.out, "  %s\n", title)
		}
		fmt.Fprintln(d.out, "The nodes are deployed. Rerun the failed playbooks once the cause is fixed.")
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
