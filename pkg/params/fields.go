// Package params holds the adjustable parameters of each calibration step.
//
// Every step owns a panel: an ordered list of field descriptors plus their
// current values. Numeric fields carry a range and an increment, choice
// fields carry their options, and ODS fields may carry the reference value
// taken from the standard recipe.
package params

import "github.com/smarteye/smarteye/pkg/calibration"

type Kind string

const (
	KindNumber Kind = "number"
	KindChoice Kind = "choice"
)

// Field describes one adjustable parameter.
type Field struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Kind    Kind     `json:"kind"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step,omitempty"`
	Ref     *float64 `json:"ref,omitempty"`
	Options []string `json:"options,omitempty"`
	// FlagOn lists the sub-metrics whose failure highlights this field.
	FlagOn  []string `json:"flagOn,omitempty"`
	Default any      `json:"default"`
}

// Flagged reports whether any of failed highlights f.
func (f Field) Flagged(failed []string) bool {
	for _, m := range f.FlagOn {
		for _, x := range failed {
			if m == x {
				return true
			}
		}
	}
	return false
}

func number(key, label string, def float64) Field {
	return Field{Key: key, Label: label, Kind: KindNumber, Min: 0, Max: 100, Step: 1, Default: def}
}

func choice(key, label, def string, options ...string) Field {
	return Field{Key: key, Label: label, Kind: KindChoice, Options: options, Default: def}
}

func (f Field) rng(lo, hi, step float64) Field {
	f.Min, f.Max, f.Step = lo, hi, step
	return f
}

func (f Field) ref(v float64) Field {
	f.Ref = &v
	return f
}

func (f Field) flagOn(submetrics ...string) Field {
	f.FlagOn = submetrics
	return f
}

func gain(key string, def float64) Field {
	return number(key, "Gain", def).rng(0, 10, 0.01)
}

func gamma(key string, def float64) Field {
	return number(key, "Gamma", def).rng(0, 3, 0.1)
}

func channel(key, label string, def float64) Field {
	return number(key, label, def).rng(0, 2000, 1)
}

var catalog = map[calibration.Workflow]map[string][]Field{
	calibration.WorkflowInstall: {
		"pose": {
			number("light1", "Light 1", 40),
			number("light2", "Light 2", 40),
			number("light3", "Light 3", 40),
			number("exposure", "Exposure", 80),
			gain("gain", 2.0),
			gamma("gamma", 0.7),
			number("errX", "Max error X", 80),
			number("errY", "Max error Y", 2.0).rng(0, 10, 0.01),
			number("imgC", "Image center", 0.7).rng(0, 3, 0.1),
			number("roiC", "FOV ROI center", 0.7).rng(0, 3, 0.1),
		},
		"clarity": {
			number("clarity", "Clarity", 80),
			choice("mode", "Focus mode", "auto", "auto", "manual"),
			number("precision", "Focus precision", 80),
			choice("speed", "Focus speed", "high", "low", "mid", "high"),
		},
		"brightness": {
			number("brightness", "Brightness", 60),
			number("exposure", "Exposure", 80),
			gain("gain", 2.0),
			gamma("gamma", 0.7),
		},
		"chroma": {
			number("brightness", "Brightness", 60),
			channel("r", "R channel", 1000),
			channel("g", "G channel", 600),
			channel("b", "B channel", 1000),
		},
	},
	calibration.WorkflowODS: {
		"fov": {
			number("l1", "Light 1", 40).ref(42),
			number("l2", "Light 2", 40).ref(42),
			number("l3", "Light 3", 40).ref(42),
			number("exp", "Exposure", 80).ref(75),
			gain("gain", 2.0).ref(2.0),
			gamma("gamma", 0.7).ref(0.7),
		},
		"clarity": {
			choice("mode", "Focus mode", "auto", "auto", "manual"),
			number("threshold", "Clarity threshold", 80).ref(80),
			number("precision", "Focus precision", 80).ref(80).flagOn("clarity"),
			choice("speed", "Focus speed", "high", "low", "mid", "high"),
		},
		"brightness": {
			number("brightness", "Brightness", 55).ref(60).flagOn("fBright"),
			number("exp", "Exposure", 78).ref(75).flagOn("fBright"),
			gain("gain", 2.1).ref(2.0),
			gamma("gamma", 0.7).ref(0.7),
		},
		"wb": {
			choice("wbMode", "White balance mode", "auto", "auto", "manual"),
			channel("r", "R channel", 1000).ref(1020).flagOn("wb"),
			channel("g", "G channel", 600).ref(580),
			channel("b", "B channel", 1000).ref(990),
			number("brightness", "Brightness", 58).ref(60).flagOn("gray"),
		},
	},
}

// Fields returns a copy of the field descriptors of a step, or nil when the
// step has no panel.
func Fields(w calibration.Workflow, stepID string) []Field {
	src := catalog[w][stepID]
	if src == nil {
		return nil
	}
	return cloneFields(src)
}

func cloneFields(src []Field) []Field {
	out := make([]Field, len(src))
	copy(out, src)
	for i := range out {
		if out[i].Ref != nil {
			v := *out[i].Ref
			out[i].Ref = &v
		}
	}
	return out
}

func setRef(fields []Field, key string, v float64) {
	for i := range fields {
		if fields[i].Key == key && fields[i].Kind == KindNumber {
			fields[i].Ref = &v
		}
	}
}
