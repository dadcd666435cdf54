package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coder/websocket"
)

type LogSink struct{}

func (LogSink) Report(_ context.Context, r Report) error {
	attrs := []any{
		"state", r.Status.State,
		"percent", fmt.Sprintf("%.0f", r.Status.Progress()*100),
	}
	for _, t := range r.SubTasks {
		attrs = append(attrs, t.ID, t.Status.State)
	}
	slog.Debug("progress", attrs...)
	return nil
}

// WSSink streams every report as one JSON text frame to a websocket
// endpoint.
type WSSink struct {
	ws *websocket.Conn
}

func DialWS(ctx context.Context, url string) (*WSSink, error) {
	ws, _, err := websocket.Dial(ctx, httpToWS(url), nil)
	if err != nil {
		return nil, fmt.Errorf("dial progress sink: %w", err)
	}
	return &WSSink{ws: ws}, nil
}

func (s *WSSink) Report(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.ws.Write(ctx, websocket.MessageText, data)
}

func (s *WSSink) Close() error {
	return s.ws.Close(websocket.StatusNormalClosure, "")
}

type multiSink []Sink

// Multi fans a report out to every non-nil sink. All sinks are tried; the
// first error is returned.
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Report(ctx context.Context, r Report) error {
	var first error
	for _, s := range m {
		if err := s.Report(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func httpToWS(u string) string {
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}
	return u
}
