package params

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/smarteye/smarteye/pkg/calibration"
)

var (
	ErrUnknownStep  = errors.New("step has no parameters")
	ErrUnknownField = errors.New("unknown parameter")
	ErrInvalidValue = errors.New("invalid parameter value")
)

// incrementTolerance absorbs float noise such as 0.7/0.1 = 6.999999999.
const incrementTolerance = 1e-6

// Panel is the parameter panel of one step.
type Panel struct {
	Workflow calibration.Workflow `json:"workflow"`
	StepID   string               `json:"stepId"`
	Fields   []Field              `json:"fields"`
	Values   map[string]any       `json:"values"`
	// Flagged lists the keys of fields highlighted by the step's current
	// failure detail. Filled in by the caller that knows the failure.
	Flagged []string `json:"flagged,omitempty"`
}

// Field returns the descriptor of key.
func (p Panel) Field(key string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// MarkFlagged fills Flagged from the failed sub-metrics of the step.
func (p *Panel) MarkFlagged(failed []string) {
	p.Flagged = nil
	for _, f := range p.Fields {
		if f.Flagged(failed) {
			p.Flagged = append(p.Flagged, f.Key)
		}
	}
}

// Store keeps the panels of one workflow. It is safe for concurrent use.
type Store struct {
	workflow calibration.Workflow

	mu     sync.RWMutex
	panels map[string]*Panel
}

// NewStore returns a store with every panel of w set to defaults.
func NewStore(w calibration.Workflow) *Store {
	s := &Store{workflow: w, panels: make(map[string]*Panel)}
	for _, step := range calibration.StepsFor(w) {
		fields := Fields(w, step.ID)
		if fields == nil {
			continue
		}
		s.panels[step.ID] = newPanel(w, step.ID, fields)
	}
	return s
}

func newPanel(w calibration.Workflow, stepID string, fields []Field) *Panel {
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Default
	}
	return &Panel{Workflow: w, StepID: stepID, Fields: fields, Values: values}
}

// Workflow returns the workflow the store belongs to.
func (s *Store) Workflow() calibration.Workflow {
	return s.workflow
}

// Panel returns a copy of the panel of stepID.
func (s *Store) Panel(stepID string) (Panel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.panels[stepID]
	if !ok {
		return Panel{}, fmt.Errorf("%w: %s/%s", ErrUnknownStep, s.workflow, stepID)
	}
	return p.clone(), nil
}

// Panels returns copies of all panels in step order.
func (s *Store) Panels() []Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Panel
	for _, step := range calibration.StepsFor(s.workflow) {
		if p, ok := s.panels[step.ID]; ok {
			out = append(out, p.clone())
		}
	}
	return out
}

// Record returns the typed record of stepID's panel.
func (s *Store) Record(stepID string) (any, error) {
	p, err := s.Panel(stepID)
	if err != nil {
		return nil, err
	}
	return Record(p)
}

// Set validates value against the descriptor of key and stores it. Numeric
// fields accept float64, int or a decimal string.
func (s *Store) Set(stepID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.panels[stepID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownStep, s.workflow, stepID)
	}
	f, ok := p.Field(key)
	if !ok {
		return fmt.Errorf("%w %q on step %s", ErrUnknownField, key, stepID)
	}
	v, err := Validate(f, value)
	if err != nil {
		return err
	}
	p.Values[key] = v
	return nil
}

// ApplyRefs replaces reference values. refs maps step id to field key to
// value; unknown steps and keys are ignored.
func (s *Store) ApplyRefs(refs map[string]map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for stepID, byKey := range refs {
		p, ok := s.panels[stepID]
		if !ok {
			continue
		}
		for key, v := range byKey {
			setRef(p.Fields, key, v)
		}
	}
}

// Reset puts every panel back to its default values and references.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for stepID := range s.panels {
		s.panels[stepID] = newPanel(s.workflow, stepID, Fields(s.workflow, stepID))
	}
}

func (p *Panel) clone() Panel {
	out := *p
	out.Fields = cloneFields(p.Fields)
	out.Values = make(map[string]any, len(p.Values))
	for k, v := range p.Values {
		out.Values[k] = v
	}
	out.Flagged = append([]string(nil), p.Flagged...)
	return out
}

// Validate checks value against f and returns it in canonical form: float64
// for numbers, string for choices.
func Validate(f Field, value any) (any, error) {
	switch f.Kind {
	case KindNumber:
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Key, err)
		}
		if math.IsNaN(v) || v < f.Min || v > f.Max {
			return nil, fmt.Errorf("%w: %s must be between %v and %v, got %v", ErrInvalidValue, f.Key, f.Min, f.Max, v)
		}
		if f.Step > 0 {
			q := (v - f.Min) / f.Step
			if math.Abs(q-math.Round(q)) > incrementTolerance {
				return nil, fmt.Errorf("%w: %s must be a multiple of %v, got %v", ErrInvalidValue, f.Key, f.Step, v)
			}
		}
		return v, nil
	case KindChoice:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects one of %v", ErrInvalidValue, f.Key, f.Options)
		}
		for _, o := range f.Options {
			if o == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %s expects one of %v, got %q", ErrInvalidValue, f.Key, f.Options, s)
	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidValue, f.Key, f.Kind)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
