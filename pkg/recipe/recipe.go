// Package recipe manages the standard recipes ODS setup compares against and
// the comparison rows shown for each ODS step.
package recipe

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/smarteye/smarteye/pkg/calibration"
)

var ErrNotFound = errors.New("recipe not found")

// Metric is one compared quantity of a step in a standard recipe.
type Metric struct {
	Key       string  `yaml:"key" json:"key"`
	Label     string  `yaml:"label" json:"label"`
	Unit      string  `yaml:"unit,omitempty" json:"unit,omitempty"`
	Std       float64 `yaml:"std" json:"std"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Nominal is the reading reported while the metric is within tolerance,
	// Deviant the reading reported when one of FailsWith failed.
	Nominal   float64  `yaml:"nominal" json:"nominal"`
	Deviant   float64  `yaml:"deviant" json:"deviant"`
	FailsWith []string `yaml:"failsWith,omitempty" json:"failsWith,omitempty"`
}

// Recipe is a standard recipe: per-step baselines plus the reference values
// of the parameter panels.
type Recipe struct {
	Name        string                        `yaml:"name" json:"name"`
	Description string                        `yaml:"description,omitempty" json:"description,omitempty"`
	Metrics     map[string][]Metric           `yaml:"metrics" json:"metrics"`
	Refs        map[string]map[string]float64 `yaml:"refs,omitempty" json:"refs,omitempty"`
}

// Validate checks that r is usable as an ODS baseline.
func (r Recipe) Validate() error {
	if r.Name == "" {
		return errors.New("recipe has no name")
	}
	for _, step := range calibration.ODSSteps {
		ms := r.Metrics[step.ID]
		if len(ms) == 0 {
			return fmt.Errorf("recipe %s: step %s has no metrics", r.Name, step.ID)
		}
		for _, m := range ms {
			if m.Key == "" {
				return fmt.Errorf("recipe %s: step %s has a metric without key", r.Name, step.ID)
			}
			if m.Threshold < 0 {
				return fmt.Errorf("recipe %s: %s/%s has negative threshold", r.Name, step.ID, m.Key)
			}
		}
	}
	return nil
}

// Row is one line of a comparison table.
type Row struct {
	Key       string             `json:"key"`
	Label     string             `json:"label"`
	Unit      string             `json:"unit,omitempty"`
	Std       float64            `json:"std"`
	Cur       float64            `json:"cur"`
	Diff      float64            `json:"diff"`
	Threshold float64            `json:"threshold"`
	Verdict   calibration.Status `json:"verdict"`
}

// Compare builds the comparison rows of stepID. status is the step's current
// status and failed its failure detail. Rows of a step that has not reached a
// verdict carry the Pending verdict and no current reading.
func Compare(r Recipe, stepID string, status calibration.Status, failed []string) []Row {
	ms := r.Metrics[stepID]
	rows := make([]Row, 0, len(ms))
	for _, m := range ms {
		row := Row{
			Key:       m.Key,
			Label:     m.Label,
			Unit:      m.Unit,
			Std:       m.Std,
			Threshold: m.Threshold,
			Verdict:   calibration.StatusPending,
		}
		if status.IsTerminal() {
			row.Cur = m.Nominal
			if status == calibration.StatusFail && deviates(m, failed) {
				row.Cur = m.Deviant
			}
			row.Diff = round1(row.Cur - m.Std)
			row.Verdict = calibration.StatusPass
			if math.Abs(row.Diff) > m.Threshold {
				row.Verdict = calibration.StatusFail
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func deviates(m Metric, failed []string) bool {
	for _, f := range m.FailsWith {
		if slices.Contains(failed, f) {
			return true
		}
	}
	return false
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
