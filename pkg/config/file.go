package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		InstallPassRate:    ptr.To(0.8),
		ODSPassRate:        ptr.To(0.65),
		MinMeasureDelayMs:  ptr.To(1400),
		MaxMeasureDelayMs:  ptr.To(2200),
		InterStepPauseMs:   ptr.To(300),
		HaltOnFail:         ptr.To(false),
		RecipeDir:          ptr.To(""),
		InstrumentEndpoint: ptr.To(""),
		FixturePoints:      calibration.DefaultFixturePoints,
		VerifyCron:         ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields fall back to defaults.
type RawFileConfig struct {
	InstallPassRate    *float64 `json:"installPassRate,omitempty"`
	ODSPassRate        *float64 `json:"odsPassRate,omitempty"`
	MinMeasureDelayMs  *int     `json:"minMeasureDelayMs,omitempty"`
	MaxMeasureDelayMs  *int     `json:"maxMeasureDelayMs,omitempty"`
	InterStepPauseMs   *int     `json:"interStepPauseMs,omitempty"`
	HaltOnFail         *bool    `json:"haltOnFail,omitempty"`
	RecipeDir          *string  `json:"recipeDir,omitempty"`
	InstrumentEndpoint *string  `json:"instrumentEndpoint,omitempty"`
	FixturePoints      []string `json:"fixturePoints,omitempty"`
	VerifyCron         *string  `json:"verifyCron,omitempty"`
	AllowNonRootAccess *bool    `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		InstallPassRate:    ptr.To(c.InstallPassRate()),
		ODSPassRate:        ptr.To(c.ODSPassRate()),
		MinMeasureDelayMs:  ptr.To(int(c.MinMeasureDelay().Milliseconds())),
		MaxMeasureDelayMs:  ptr.To(int(c.MaxMeasureDelay().Milliseconds())),
		InterStepPauseMs:   ptr.To(int(c.InterStepPause().Milliseconds())),
		HaltOnFail:         ptr.To(c.HaltOnFail()),
		RecipeDir:          ptr.To(c.RecipeDir()),
		InstrumentEndpoint: ptr.To(c.InstrumentEndpoint()),
		FixturePoints:      c.FixturePoints(),
		VerifyCron:         ptr.To(c.VerifyCron()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// Validate reports the first value that cannot be used.
func (r *RawFileConfig) Validate() error {
	for name, rate := range map[string]*float64{
		"installPassRate": r.InstallPassRate,
		"odsPassRate":     r.ODSPassRate,
	} {
		if rate != nil && (*rate < 0 || *rate > 1) {
			return pkgerrors.Errorf("%s must be between 0 and 1, got %v", name, *rate)
		}
	}
	for name, ms := range map[string]*int{
		"minMeasureDelayMs": r.MinMeasureDelayMs,
		"maxMeasureDelayMs": r.MaxMeasureDelayMs,
		"interStepPauseMs":  r.InterStepPauseMs,
	} {
		if ms != nil && *ms < 0 {
			return pkgerrors.Errorf("%s must not be negative, got %d", name, *ms)
		}
	}
	minDelay := ptr.Deref(r.MinMeasureDelayMs, *defaultFileConfig.MinMeasureDelayMs)
	maxDelay := ptr.Deref(r.MaxMeasureDelayMs, *defaultFileConfig.MaxMeasureDelayMs)
	if maxDelay < minDelay {
		return pkgerrors.Errorf("maxMeasureDelayMs (%d) must not be less than minMeasureDelayMs (%d)", maxDelay, minDelay)
	}
	for i, p := range r.FixturePoints {
		if strings.TrimSpace(p) == "" {
			return pkgerrors.Errorf("fixturePoints[%d] is empty", i)
		}
	}
	return nil
}

func (f *File) InstallPassRate() float64 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.InstallPassRate, *defaultFileConfig.InstallPassRate)
}

func (f *File) ODSPassRate() float64 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.ODSPassRate, *defaultFileConfig.ODSPassRate)
}

func (f *File) MinMeasureDelay() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.c.MinMeasureDelayMs, *defaultFileConfig.MinMeasureDelayMs)
	return time.Duration(ms) * time.Millisecond
}

func (f *File) MaxMeasureDelay() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.c.MaxMeasureDelayMs, *defaultFileConfig.MaxMeasureDelayMs)
	return time.Duration(ms) * time.Millisecond
}

func (f *File) InterStepPause() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.c.InterStepPauseMs, *defaultFileConfig.InterStepPauseMs)
	return time.Duration(ms) * time.Millisecond
}

func (f *File) HaltOnFail() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.HaltOnFail, *defaultFileConfig.HaltOnFail)
}

func (f *File) RecipeDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.RecipeDir, *defaultFileConfig.RecipeDir)
}

func (f *File) InstrumentEndpoint() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.InstrumentEndpoint, *defaultFileConfig.InstrumentEndpoint)
}

// FixturePoints returns a copy of the configured ODS fixture points.
func (f *File) FixturePoints() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	points := f.c.FixturePoints
	if len(points) == 0 {
		points = defaultFileConfig.FixturePoints
	}
	return append([]string(nil), points...)
}

func (f *File) VerifyCron() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.VerifyCron, *defaultFileConfig.VerifyCron)
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetHaltOnFail(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.HaltOnFail = &b
}

func (f *File) SetInterStepPause(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}

	if d < 0 {
		panic("inter-step pause must not be negative")
	}

	ms := int(d.Milliseconds())

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.InterStepPauseMs = &ms
}

func (f *File) SetVerifyCron(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.VerifyCron = &expr
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults. Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// json.Decoder cannot tell an empty file from a truncated one.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"installPassRate":    f.InstallPassRate(),
		"odsPassRate":        f.ODSPassRate(),
		"minMeasureDelay":    f.MinMeasureDelay().String(),
		"maxMeasureDelay":    f.MaxMeasureDelay().String(),
		"interStepPause":     f.InterStepPause().String(),
		"haltOnFail":         f.HaltOnFail(),
		"recipeDir":          f.RecipeDir(),
		"instrumentEndpoint": f.InstrumentEndpoint(),
		"fixturePoints":      f.FixturePoints(),
		"verifyCron":         f.VerifyCron(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
