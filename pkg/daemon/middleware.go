package daemon

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// routeParams are copied into request log entries so that a request can be
// matched with the runner's own log lines.
var routeParams = []string{"workflow", "index", "step"}

// requestLogger logs one entry per API request. The event stream is logged
// when it opens and closes instead, since its latency is the client's
// connection time.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		fields := logrus.Fields{
			"method": c.Request.Method,
			"route":  route,
		}
		for _, p := range routeParams {
			if v := c.Param(p); v != "" {
				fields[p] = v
			}
		}
		entry := logger.WithFields(fields)

		start := time.Now()
		if route == "/events" {
			entry.Debug("event stream opened")
			c.Next()
			entry.WithField("duration", time.Since(start).Round(time.Second).String()).Debug("event stream closed")
			return
		}

		c.Next()

		statusCode := c.Writer.Status()
		entry = entry.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latencyMs":  time.Since(start).Milliseconds(),
		})
		if err := c.Errors.Last(); err != nil {
			entry = entry.WithError(err.Err)
		}

		msg := c.Request.Method + " " + c.Request.URL.Path
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
