package recipe

import (
	"fmt"
	"strings"
)

type SaveMode string

const (
	SaveOverwrite SaveMode = "overwrite"
	SaveNew       SaveMode = "new"
)

const (
	// CurrentConfig is the machine configuration an overwrite replaces.
	CurrentConfig = "config1"
	// DefaultNewConfig names a save-as-new when the operator gives no name.
	DefaultNewConfig = "config2"
)

// SaveRequest asks to store the install workflow result as a machine config.
type SaveRequest struct {
	Mode SaveMode `json:"mode"`
	Name string   `json:"name,omitempty"`
}

// SaveAck acknowledges a save. Nothing is persisted.
type SaveAck struct {
	Mode    SaveMode `json:"mode"`
	Target  string   `json:"target"`
	Message string   `json:"message"`
}

// ResolveSave validates req and names the config it would write.
func ResolveSave(req SaveRequest) (SaveAck, error) {
	switch req.Mode {
	case SaveOverwrite:
		return SaveAck{
			Mode:    SaveOverwrite,
			Target:  CurrentConfig,
			Message: fmt.Sprintf("saved to %s", CurrentConfig),
		}, nil
	case SaveNew:
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = DefaultNewConfig
		}
		if strings.ContainsAny(name, `/\`) {
			return SaveAck{}, fmt.Errorf("invalid config name %q", name)
		}
		return SaveAck{
			Mode:    SaveNew,
			Target:  name,
			Message: fmt.Sprintf("saved as new recipe %q", name),
		}, nil
	default:
		return SaveAck{}, fmt.Errorf("unknown save mode %q, expected %q or %q", req.Mode, SaveOverwrite, SaveNew)
	}
}
