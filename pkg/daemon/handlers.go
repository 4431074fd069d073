package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/config"
	"github.com/smarteye/smarteye/pkg/params"
	"github.com/smarteye/smarteye/pkg/recipe"
	"github.com/smarteye/smarteye/pkg/runner"
	"github.com/smarteye/smarteye/pkg/types"
	"github.com/smarteye/smarteye/pkg/version"
	"github.com/smarteye/smarteye/pkg/workbench"
)

const workbenchKey = "workbench"

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidState),
		errors.Is(err, workbench.ErrRecipeRequired),
		errors.Is(err, errCalibrationBusy):
		return http.StatusConflict
	case errors.Is(err, workbench.ErrUnknownWorkflow),
		errors.Is(err, recipe.ErrNotFound),
		errors.Is(err, params.ErrUnknownStep):
		return http.StatusNotFound
	case errors.Is(err, workbench.ErrNotSupported),
		errors.Is(err, params.ErrUnknownField),
		errors.Is(err, params.ErrInvalidValue):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func abortErr(c *gin.Context, err error) {
	abort(c, statusFor(err), err)
}

// resolveWorkbench looks up the :workflow path parameter for the group.
func (s *server) resolveWorkbench(c *gin.Context) {
	wb, err := s.ctrl.Lookup(c.Param("workflow"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Set(workbenchKey, wb)
	c.Next()
}

func bench(c *gin.Context) *workbench.Workbench {
	return c.MustGet(workbenchKey).(*workbench.Workbench)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) setHaltOnFail(c *gin.Context) {
	var b bool
	if err := c.BindJSON(&b); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s.conf.SetHaltOnFail(b)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.ctrl.Apply(settingsFrom(s.conf)); err != nil {
		logrus.WithError(err).Warn("settings only partially applied")
	}

	logrus.Infof("set halt on fail to %t", b)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("halt on fail set to %t, applies from the next run-all", b))
}

func (s *server) setInterStepPause(c *gin.Context) {
	var ms int
	if err := c.BindJSON(&ms); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if ms < 0 {
		abort(c, http.StatusBadRequest, fmt.Errorf("inter-step pause must not be negative, got %d", ms))
		return
	}

	d := time.Duration(ms) * time.Millisecond
	s.conf.SetInterStepPause(d)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.ctrl.Apply(settingsFrom(s.conf)); err != nil {
		logrus.WithError(err).Warn("settings only partially applied")
	}

	logrus.Infof("set inter-step pause to %s", d)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("inter-step pause set to %s, applies from the next run-all", d))
}

func (s *server) getWorkbench(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.Overview())
}

func (s *server) setPage(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	p, err := workbench.ParsePage(name)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Navigate(p); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("switched to %s", p))
}

func (s *server) getSteps(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, bench(c).View())
}

func (s *server) runStep(c *gin.Context) {
	wb := bench(c)
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("step index must be a number: %w", err))
		return
	}

	st, err := wb.RunStep(c.Request.Context(), idx)
	if err != nil {
		abortErr(c, err)
		return
	}

	snap := wb.Runner().Snapshot()
	c.IndentedJSON(http.StatusOK, types.StepResult{
		Workflow: wb.Workflow(),
		Index:    idx,
		StepID:   snap.Steps[idx].ID,
		Status:   st,
		Failed:   snap.Failures[idx],
	})
}

// runAll starts a run-all in the background. The body is true to reset every
// step first, as confirming the run-all prompt does.
func (s *server) runAll(c *gin.Context) {
	var reset bool
	if err := c.BindJSON(&reset); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	wb := bench(c)
	if err := wb.StartRunAll(reset); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, fmt.Sprintf("%s run-all started", wb.Workflow()))
}

func (s *server) cancelRun(c *gin.Context) {
	wb := bench(c)
	if !wb.Cancel() {
		c.IndentedJSON(http.StatusOK, "no run-all in progress")
		return
	}
	c.IndentedJSON(http.StatusAccepted, fmt.Sprintf("%s run-all cancelling, the current step will finish", wb.Workflow()))
}

func (s *server) resetSteps(c *gin.Context) {
	wb := bench(c)
	if err := wb.Reset(); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("%s steps reset", wb.Workflow()))
}

func (s *server) getParams(c *gin.Context) {
	p, err := bench(c).Params(c.Param("step"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, p)
}

func (s *server) setParam(c *gin.Context) {
	var u types.ParamUpdate
	if err := c.BindJSON(&u); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	wb := bench(c)
	step := c.Param("step")
	if err := wb.SetParam(step, u.Key, u.Value); err != nil {
		abortErr(c, err)
		return
	}
	p, err := wb.Params(step)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, p)
}

func (s *server) saveRecipe(c *gin.Context) {
	var req recipe.SaveRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	ack, err := bench(c).Save(req)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		abort(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, ack)
}

func (s *server) getRecipes(c *gin.Context) {
	if bench(c).Workflow() != calibration.WorkflowODS {
		abortErr(c, fmt.Errorf("%w: only %s uses standard recipes", workbench.ErrNotSupported, calibration.WorkflowODS))
		return
	}
	c.IndentedJSON(http.StatusOK, s.ctrl.Recipes())
}

func (s *server) selectRecipe(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	r, err := bench(c).SelectRecipe(name)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, r)
}

func (s *server) switchPoint(c *gin.Context) {
	var delta int
	if err := c.BindJSON(&delta); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	wb := bench(c)
	point, err := wb.SwitchPoint(delta)
	if err != nil {
		abortErr(c, err)
		return
	}
	v := wb.View()
	c.IndentedJSON(http.StatusCreated, types.PointResult{
		Index: v.PointIndex,
		Total: len(v.Points),
		Point: point,
	})
}

func (s *server) compare(c *gin.Context) {
	rows, err := bench(c).Compare(c.Param("step"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, rows)
}

func (s *server) markPass(c *gin.Context) {
	msg, err := bench(c).MarkPass()
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, msg)
}

func (s *server) saveSample(c *gin.Context) {
	msg, err := bench(c).SaveSample()
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, msg)
}

func (s *server) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.sched.Status())
}

func (s *server) setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	runs, err := s.schedule(expr)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, types.ScheduleResult{NextRuns: runs})
}

func (s *server) postponeSchedule(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.postpone(d); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, s.sched.Status())
}

func (s *server) skipSchedule(c *gin.Context) {
	if err := s.skipNextSchedule(); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, s.sched.Status())
}
