package measure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// DefaultInstrumentTimeout bounds a single instrument request.
const DefaultInstrumentTimeout = 10 * time.Second

// Instrument asks a measurement station over HTTP for a verdict.
//
// The station receives POST {endpoint}/measure with a JSON
// calibration.MeasureRequest and answers with a calibration.Verdict.
type Instrument struct {
	endpoint   string
	httpClient *http.Client
}

// NewInstrument returns a client for the station at endpoint.
func NewInstrument(endpoint string, timeout time.Duration) *Instrument {
	if timeout <= 0 {
		timeout = DefaultInstrumentTimeout
	}
	return &Instrument{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (i *Instrument) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return calibration.Verdict{}, fmt.Errorf("failed to marshal measure request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint+"/measure", bytes.NewReader(body))
	if err != nil {
		return calibration.Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logrus.WithFields(logrus.Fields{
		"endpoint": i.endpoint,
		"workflow": req.Workflow,
		"step":     req.Step.ID,
		"point":    req.Point,
	}).Debug("requesting measurement")

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		return calibration.Verdict{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return calibration.Verdict{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return calibration.Verdict{}, fmt.Errorf("got %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var v calibration.Verdict
	if err := json.Unmarshal(b, &v); err != nil {
		return calibration.Verdict{}, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	if !v.Outcome.IsTerminal() {
		return calibration.Verdict{}, fmt.Errorf("instrument returned outcome %q", v.Outcome)
	}
	return v, nil
}
