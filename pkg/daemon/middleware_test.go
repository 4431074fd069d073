package daemon

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	router := gin.New()
	router.Use(requestLogger(logger))
	router.POST("/:workflow/steps/:index/run", func(c *gin.Context) {
		err := errors.New("step 1 is running")
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
	})
	router.GET("/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("run request carries route params", func(t *testing.T) {
		hook.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ods/steps/2/run", nil))

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "POST /ods/steps/2/run", entry.Message)
		assert.Equal(t, "/:workflow/steps/:index/run", entry.Data["route"])
		assert.Equal(t, "ods", entry.Data["workflow"])
		assert.Equal(t, "2", entry.Data["index"])
		assert.Equal(t, http.StatusConflict, entry.Data["statusCode"])
		assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "step 1 is running")
	})

	t.Run("event stream logs open and close", func(t *testing.T) {
		hook.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))

		entries := hook.AllEntries()
		require.Len(t, entries, 2)
		assert.Equal(t, "event stream opened", entries[0].Message)
		assert.Equal(t, "event stream closed", entries[1].Message)
		assert.NotContains(t, entries[1].Data, "latencyMs")
		assert.Contains(t, entries[1].Data, "duration")
	})
}
