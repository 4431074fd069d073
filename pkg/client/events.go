package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/events"
)

// SubscribeEvents streams daemon events to handle until ctx is done or the
// daemon closes the stream. It returns nil when ctx ends the stream and
// io.ErrUnexpectedEOF when the daemon closes it.
func (c *Client) SubscribeEvents(ctx context.Context, handle func(events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to subscribe to events")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, b)
	}

	logrus.Debug("subscribed to daemon events")
	err = readEvents(resp.Body, handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a server-sent event stream. Comment lines are skipped
// and multiple data lines are joined with newlines.
func readEvents(r io.Reader, handle func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				handle(events.Event{Name: name, Data: []byte(strings.Join(data, "\n"))})
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return pkgerrors.Wrapf(err, "failed to read event stream")
	}
	return io.ErrUnexpectedEOF
}
