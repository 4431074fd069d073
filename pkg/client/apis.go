package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/config"
	"github.com/smarteye/smarteye/pkg/params"
	"github.com/smarteye/smarteye/pkg/recipe"
	"github.com/smarteye/smarteye/pkg/types"
	"github.com/smarteye/smarteye/pkg/workbench"
)

// getJSON fetches path and decodes the body into a T.
func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

// sendJSON encodes body, sends it and decodes the response into a T.
func sendJSON[T any](c *Client, method, path string, body any, what string) (*T, error) {
	data := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to marshal %s", what)
		}
		data = string(b)
	}
	ret, err := c.Send(method, path, data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal response of %s", what)
	}
	return &v, nil
}

// message sends a request whose response is a plain JSON string.
func (c *Client) message(method, path string, body any, what string) (string, error) {
	ret, err := sendJSON[string](c, method, path, body, what)
	if err != nil {
		return "", err
	}
	return *ret, nil
}

func workflowPath(w calibration.Workflow, rest string) string {
	return "/" + string(w) + rest
}

func (c *Client) GetVersion() (string, error) {
	v, err := getJSON[string](c, "/version", "version")
	if err != nil {
		return "", err
	}
	return *v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) SetHaltOnFail(enabled bool) (string, error) {
	return c.message("PUT", "/halt-on-fail", enabled, "set halt on fail")
}

func (c *Client) SetInterStepPause(d time.Duration) (string, error) {
	return c.message("PUT", "/inter-step-pause", d.Milliseconds(), "set inter-step pause")
}

func (c *Client) GetWorkbench() (*workbench.Overview, error) {
	return getJSON[workbench.Overview](c, "/workbench", "workbench")
}

func (c *Client) Navigate(page workbench.Page) (string, error) {
	return c.message("PUT", "/page", page, "switch page")
}

func (c *Client) GetSteps(w calibration.Workflow) (*workbench.View, error) {
	return getJSON[workbench.View](c, workflowPath(w, "/steps"), fmt.Sprintf("%s steps", w))
}

// RunStep runs one step and blocks until it has a verdict.
func (c *Client) RunStep(w calibration.Workflow, index int) (*types.StepResult, error) {
	return sendJSON[types.StepResult](c, "POST", workflowPath(w, "/steps/"+strconv.Itoa(index)+"/run"), nil, fmt.Sprintf("run %s step %d", w, index))
}

// RunAll starts a run-all and returns at once. With reset, every step is set
// back to pending first.
func (c *Client) RunAll(w calibration.Workflow, reset bool) (string, error) {
	return c.message("POST", workflowPath(w, "/run-all"), reset, fmt.Sprintf("start %s run-all", w))
}

func (c *Client) Cancel(w calibration.Workflow) (string, error) {
	return c.message("POST", workflowPath(w, "/cancel"), nil, fmt.Sprintf("cancel %s run-all", w))
}

func (c *Client) Reset(w calibration.Workflow) (string, error) {
	return c.message("POST", workflowPath(w, "/reset"), nil, fmt.Sprintf("reset %s steps", w))
}

func (c *Client) GetParams(w calibration.Workflow, stepID string) (*params.Panel, error) {
	return getJSON[params.Panel](c, workflowPath(w, "/params/"+stepID), fmt.Sprintf("%s %s parameters", w, stepID))
}

func (c *Client) SetParam(w calibration.Workflow, stepID, key string, value any) (*params.Panel, error) {
	return sendJSON[params.Panel](c, "PUT", workflowPath(w, "/params/"+stepID), types.ParamUpdate{Key: key, Value: value}, fmt.Sprintf("set %s.%s", stepID, key))
}

// SaveConfig stores the install result as a machine config.
func (c *Client) SaveConfig(req recipe.SaveRequest) (*recipe.SaveAck, error) {
	return sendJSON[recipe.SaveAck](c, "POST", workflowPath(calibration.WorkflowInstall, "/save"), req, "save config")
}

func (c *Client) ListRecipes() ([]recipe.Recipe, error) {
	rs, err := getJSON[[]recipe.Recipe](c, workflowPath(calibration.WorkflowODS, "/recipes"), "standard recipes")
	if err != nil {
		return nil, err
	}
	return *rs, nil
}

func (c *Client) SelectRecipe(name string) (*recipe.Recipe, error) {
	return sendJSON[recipe.Recipe](c, "PUT", workflowPath(calibration.WorkflowODS, "/recipe"), name, "select standard recipe")
}

// SwitchPoint moves to the previous (-1) or next (+1) fixture point.
func (c *Client) SwitchPoint(delta int) (*types.PointResult, error) {
	return sendJSON[types.PointResult](c, "PUT", workflowPath(calibration.WorkflowODS, "/point"), delta, "switch fixture point")
}

func (c *Client) Compare(stepID string) ([]recipe.Row, error) {
	rows, err := getJSON[[]recipe.Row](c, workflowPath(calibration.WorkflowODS, "/compare/"+stepID), fmt.Sprintf("%s comparison", stepID))
	if err != nil {
		return nil, err
	}
	return *rows, nil
}

func (c *Client) MarkPass() (string, error) {
	return c.message("POST", workflowPath(calibration.WorkflowODS, "/mark-pass"), nil, "mark as passed")
}

func (c *Client) SaveSample() (string, error) {
	return c.message("POST", workflowPath(calibration.WorkflowODS, "/save-sample"), nil, "save to sample recipe")
}

func (c *Client) GetSchedule() (*types.ScheduleStatus, error) {
	return getJSON[types.ScheduleStatus](c, "/schedule", "schedule")
}

// Schedule sets the verification cron expression. An empty expression
// disables scheduled verification.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	res, err := sendJSON[types.ScheduleResult](c, "PUT", "/schedule", cronExpr, "schedule verification")
	if err != nil {
		return nil, err
	}
	return res.NextRuns, nil
}

func (c *Client) PostponeSchedule(d time.Duration) (*types.ScheduleStatus, error) {
	return sendJSON[types.ScheduleStatus](c, "PUT", "/schedule/postpone", d.String(), "postpone verification")
}

func (c *Client) SkipSchedule() (*types.ScheduleStatus, error) {
	return sendJSON[types.ScheduleStatus](c, "POST", "/schedule/skip", nil, "skip verification")
}
