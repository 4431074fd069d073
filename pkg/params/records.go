package params

import (
	"encoding/json"
	"fmt"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// Typed views of the panels. Decode a Panel into one of these with As.

type InstallPose struct {
	Light1   float64 `json:"light1"`
	Light2   float64 `json:"light2"`
	Light3   float64 `json:"light3"`
	Exposure float64 `json:"exposure"`
	Gain     float64 `json:"gain"`
	Gamma    float64 `json:"gamma"`
	ErrX     float64 `json:"errX"`
	ErrY     float64 `json:"errY"`
	ImgC     float64 `json:"imgC"`
	RoiC     float64 `json:"roiC"`
}

type InstallClarity struct {
	Clarity   float64 `json:"clarity"`
	Mode      string  `json:"mode"`
	Precision float64 `json:"precision"`
	Speed     string  `json:"speed"`
}

type InstallBrightness struct {
	Brightness float64 `json:"brightness"`
	Exposure   float64 `json:"exposure"`
	Gain       float64 `json:"gain"`
	Gamma      float64 `json:"gamma"`
}

type InstallChroma struct {
	Brightness float64 `json:"brightness"`
	R          float64 `json:"r"`
	G          float64 `json:"g"`
	B          float64 `json:"b"`
}

type ODSFov struct {
	L1    float64 `json:"l1"`
	L2    float64 `json:"l2"`
	L3    float64 `json:"l3"`
	Exp   float64 `json:"exp"`
	Gain  float64 `json:"gain"`
	Gamma float64 `json:"gamma"`
}

type ODSClarity struct {
	Mode      string  `json:"mode"`
	Threshold float64 `json:"threshold"`
	Precision float64 `json:"precision"`
	Speed     string  `json:"speed"`
}

type ODSBrightness struct {
	Brightness float64 `json:"brightness"`
	Exp        float64 `json:"exp"`
	Gain       float64 `json:"gain"`
	Gamma      float64 `json:"gamma"`
}

type ODSWhiteBalance struct {
	WBMode     string  `json:"wbMode"`
	R          float64 `json:"r"`
	G          float64 `json:"g"`
	B          float64 `json:"b"`
	Brightness float64 `json:"brightness"`
}

// Record decodes p into the typed record of its step.
func Record(p Panel) (any, error) {
	switch p.Workflow {
	case calibration.WorkflowInstall:
		switch p.StepID {
		case "pose":
			return As[InstallPose](p)
		case "clarity":
			return As[InstallClarity](p)
		case "brightness":
			return As[InstallBrightness](p)
		case "chroma":
			return As[InstallChroma](p)
		}
	case calibration.WorkflowODS:
		switch p.StepID {
		case "fov":
			return As[ODSFov](p)
		case "clarity":
			return As[ODSClarity](p)
		case "brightness":
			return As[ODSBrightness](p)
		case "wb":
			return As[ODSWhiteBalance](p)
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownStep, p.Workflow, p.StepID)
}

// As decodes the values of p into T.
func As[T any](p Panel) (T, error) {
	var zero T
	b, err := json.Marshal(p.Values)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal %s/%s values: %w", p.Workflow, p.StepID, err)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, fmt.Errorf("failed to decode %s/%s values: %w", p.Workflow, p.StepID, err)
	}
	return v, nil
}
