package calibration

var (
	// InstallSteps is the install debugging sequence.
	InstallSteps = []Step{
		{ID: "pose", Label: "Position & Pose", Index: 0},
		{ID: "clarity", Label: "Clarity", Index: 1},
		{ID: "brightness", Label: "Brightness", Index: 2},
		{ID: "chroma", Label: "Chroma", Index: 3},
	}

	// ODSSteps is the ODS batch setup sequence.
	ODSSteps = []Step{
		{ID: "fov", Label: "Imaging Field of View", Index: 0},
		{ID: "clarity", Label: "Clarity Adjustment", Index: 1},
		{ID: "brightness", Label: "Brightness", Index: 2},
		{ID: "wb", Label: "Camera White Balance", Index: 3},
	}

	// DefaultFixturePoints are the ODS fixture points visited in order.
	DefaultFixturePoints = []string{
		"left-station/guide",
		"left-station/inspect",
		"right-station/guide",
		"top/locate",
	}

	// odsSubmetrics holds the comparison sub-metrics each ODS step can fail
	// on. The first entry is the fallback when a provider reports a failure
	// without naming any.
	odsSubmetrics = map[string][]string{
		"fov":        {"y", "x"},
		"clarity":    {"clarity"},
		"brightness": {"fBright", "bBright", "diff"},
		"wb":         {"gray", "wb"},
	}
)

// StepsFor returns a copy of the step catalog of w.
func StepsFor(w Workflow) []Step {
	var src []Step
	switch w {
	case WorkflowInstall:
		src = InstallSteps
	case WorkflowODS:
		src = ODSSteps
	}
	out := make([]Step, len(src))
	copy(out, src)
	return out
}

// Submetrics returns the candidate failure sub-metrics of a step. Only ODS
// steps have sub-metrics.
func Submetrics(w Workflow, stepID string) []string {
	if w != WorkflowODS {
		return nil
	}
	return append([]string(nil), odsSubmetrics[stepID]...)
}

// DefaultSubmetric returns the fallback sub-metric of a step, or "".
func DefaultSubmetric(w Workflow, stepID string) string {
	s := Submetrics(w, stepID)
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
