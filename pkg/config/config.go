package config

import "time"

type Config interface {
	InstallPassRate() float64
	ODSPassRate() float64
	MinMeasureDelay() time.Duration
	MaxMeasureDelay() time.Duration
	InterStepPause() time.Duration
	HaltOnFail() bool
	RecipeDir() string
	InstrumentEndpoint() string
	FixturePoints() []string
	VerifyCron() string
	AllowNonRootAccess() bool

	SetHaltOnFail(bool)
	SetInterStepPause(time.Duration)
	SetVerifyCron(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
