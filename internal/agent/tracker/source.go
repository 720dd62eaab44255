package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

// JSONLinesSource reads samples from a stream of newline-delimited JSON
// objects, the format gpsd-style bridges pipe into the agent:
//
//	{"latitude":41.39,"longitude":2.17,"time":"2026-03-02T08:00:00Z"}
//
// Malformed lines are skipped with a log entry; the stream keeps going.
type JSONLinesSource struct {
	r      io.Reader
	logger logger.Logger
}

func NewJSONLinesSource(r io.Reader, log logger.Logger) *JSONLinesSource {
	return &JSONLinesSource{r: r, logger: log}
}

type jsonSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
}

func (s *JSONLinesSource) Watch(ctx context.Context) (<-chan Sample, error) {
	out := make(chan Sample)

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(s.r)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var js jsonSample
			if err := json.Unmarshal(line, &js); err != nil {
				s.logger.Error("tracker.source.bad_line", fmt.Errorf("skipping malformed sample: %w", err))
				continue
			}

			pos := geo.LatLng{Latitude: js.Latitude, Longitude: js.Longitude}
			if err := pos.Validate(); err != nil {
				s.logger.Error("tracker.source.bad_coordinate", err)
				continue
			}

			select {
			case out <- Sample{Position: pos, Time: js.Time}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Error("tracker.source.read", err)
		}
	}()

	return out, nil
}

// ChanSource adapts an existing sample channel (tests, embedded hosts).
type ChanSource <-chan Sample

func (c ChanSource) Watch(ctx context.Context) (<-chan Sample, error) {
	return c, nil
}

// StaticPermission is a PermissionGate with a fixed answer. Headless
// deployments are implicitly granted; the interactive gate lives in the
// host UI.
type StaticPermission PermissionStatus

func (p StaticPermission) Request(ctx context.Context) (PermissionStatus, error) {
	return PermissionStatus(p), nil
}
