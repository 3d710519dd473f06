// Package refval maintains reference baselines and scores simulations
// against them. A baseline holds statistical envelopes per metadata
// path, computed from a designated set of accepted simulations.
package refval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

// Outcome classifies one metadata path in a validation report.
type Outcome string

const (
	OutcomeInRange    Outcome = "in-range"
	OutcomeOutOfRange Outcome = "out-of-range"
	OutcomeUnscored   Outcome = "unscored"
)

// Check names the individual statistical tests.
const (
	CheckRange   = "range"
	CheckMean    = "mean"
	CheckMedian  = "median"
	CheckMissing = "mandatory"
)

// Result scores one metadata path.
type Result struct {
	Path    string
	Outcome Outcome
	Value   string
	// Failed lists the checks that placed the value outside its
	// envelope. Empty unless Outcome is out-of-range.
	Failed []string
}

// Report is the full validation verdict for one simulation.
type Report struct {
	Simulation uuid.UUID
	Device     string
	Scenario   string
	Results    []Result
}

// Passed reports whether no path scored out-of-range. Unscored paths
// never fail a report.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeOutOfRange {
			return false
		}
	}
	return true
}

// Failures returns the out-of-range results.
func (r *Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeOutOfRange {
			failed = append(failed, res)
		}
	}
	return failed
}

// Validator scores simulations against stored baselines.
type Validator struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a validator over the given store.
func New(st *store.Store, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{store: st, logger: logger}
}

// LoadReference computes baselines for (device, scenario) from the
// numeric metadata of the given reference simulations and stores them,
// replacing any previous envelope for the same paths. The range
// envelope spans the observed samples; mean and median envelopes are
// widened by one standard deviation on each side.
func (v *Validator) LoadReference(ctx context.Context, device, scenario string, refs []uuid.UUID) (int, error) {
	if len(refs) == 0 {
		return 0, fmt.Errorf("%w: no reference simulations given", core.ErrValidationFailed)
	}

	samples := make(map[string][]float64)
	for _, id := range refs {
		sim, err := v.store.GetSimulation(ctx, id)
		if err != nil {
			return 0, err
		}
		for _, m := range sim.Meta {
			value, err := strconv.ParseFloat(m.Value, 64)
			if err != nil {
				continue
			}
			samples[m.Element] = append(samples[m.Element], value)
		}
	}

	paths := make([]string, 0, len(samples))
	for p := range samples {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		st := summarize(samples[path])
		b := core.Baseline{
			Device:     device,
			Scenario:   scenario,
			Path:       path,
			Mandatory:  len(samples[path]) == len(refs),
			RangeLow:   st.min,
			RangeHigh:  st.max,
			MeanLow:    st.mean - st.stdev,
			MeanHigh:   st.mean + st.stdev,
			MedianLow:  st.median - st.stdev,
			MedianHigh: st.median + st.stdev,
			StdevLow:   0,
			StdevHigh:  2 * st.stdev,
		}
		if err := v.store.PutBaseline(ctx, b); err != nil {
			return 0, err
		}
	}

	v.logger.Info("loaded reference baselines",
		"device", device, "scenario", scenario,
		"simulations", len(refs), "paths", len(paths))
	return len(paths), nil
}

// Validate compares a simulation's numeric metadata against the
// stored baselines for (device, scenario). Paths without a baseline
// are reported unscored, never as errors. The verdict is appended to
// the simulation's provenance.
func (v *Validator) Validate(ctx context.Context, simUUID uuid.UUID, device, scenario string) (*Report, error) {
	baselines, err := v.store.GetBaselines(ctx, device, scenario)
	if err != nil {
		return nil, err
	}
	if len(baselines) == 0 {
		return nil, fmt.Errorf("%w: no baselines for device %q scenario %q",
			core.ErrNotFound, device, scenario)
	}

	sim, err := v.store.GetSimulation(ctx, simUUID)
	if err != nil {
		return nil, err
	}
	meta := sim.MetaMap()

	report := &Report{Simulation: simUUID, Device: device, Scenario: scenario}
	scored := make(map[string]bool)

	for _, b := range baselines {
		scored[b.Path] = true
		raw, ok := meta[b.Path]
		if !ok {
			if b.Mandatory {
				report.Results = append(report.Results, Result{
					Path: b.Path, Outcome: OutcomeOutOfRange, Failed: []string{CheckMissing},
				})
			}
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			report.Results = append(report.Results, Result{
				Path: b.Path, Outcome: OutcomeUnscored, Value: raw,
			})
			continue
		}

		var failed []string
		if value < b.RangeLow || value > b.RangeHigh {
			failed = append(failed, CheckRange)
		}
		if value < b.MeanLow || value > b.MeanHigh {
			failed = append(failed, CheckMean)
		}
		if value < b.MedianLow || value > b.MedianHigh {
			failed = append(failed, CheckMedian)
		}

		result := Result{Path: b.Path, Outcome: OutcomeInRange, Value: raw}
		if len(failed) > 0 {
			result.Outcome = OutcomeOutOfRange
			result.Failed = failed
		}
		report.Results = append(report.Results, result)
	}

	// Numeric metadata the baseline knows nothing about.
	for _, m := range sim.Meta {
		if scored[m.Element] {
			continue
		}
		if _, err := strconv.ParseFloat(m.Value, 64); err != nil {
			continue
		}
		report.Results = append(report.Results, Result{
			Path: m.Element, Outcome: OutcomeUnscored, Value: m.Value,
		})
	}

	verdict := "passed"
	if !report.Passed() {
		verdict = fmt.Sprintf("failed (%d paths out of range)", len(report.Failures()))
	}
	if err := v.store.AddProvenance(ctx, simUUID, "validation",
		fmt.Sprintf("%s/%s: %s", device, scenario, verdict)); err != nil {
		v.logger.Warn("failed to record validation provenance",
			"simulation", simUUID, "error", err)
	}
	return report, nil
}

type stats struct {
	min, max, mean, median, stdev float64
}

func summarize(values []float64) stats {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}
	stdev := math.Sqrt(sq / float64(len(sorted)))

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return stats{
		min:    sorted[0],
		max:    sorted[len(sorted)-1],
		mean:   mean,
		median: median,
		stdev:  stdev,
	}
}
