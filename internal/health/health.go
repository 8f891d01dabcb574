// Package health aggregates pipeline state into the status tree served
// on the health listener.
package health

import (
	"encoding/json"
	"net/http"

	"dofus-hdv/internal/cache"
	"dofus-hdv/internal/capture"
	"dofus-hdv/internal/consumer"
	"dofus-hdv/internal/queue"
)

// Status is a component or overall health level.
type Status string

const (
	StatusUp      Status = "UP"
	StatusWarning Status = "WARNING"
	StatusDown    Status = "DOWN"
)

// CaptureSection reports the sniffer's state.
type CaptureSection struct {
	Status  Status        `json:"status"`
	Enabled bool          `json:"enabled"`
	Stats   capture.Stats `json:"stats"`
}

// QueueSection reports queue pressure.
type QueueSection struct {
	Status             Status  `json:"status"`
	Size               int     `json:"size"`
	Capacity           int     `json:"capacity"`
	UtilisationPercent float64 `json:"utilisation_percent"`
}

// CacheSection reports one cache's counters.
type CacheSection struct {
	Status Status      `json:"status"`
	Stats  cache.Stats `json:"stats"`
}

// Report is the full status tree.
type Report struct {
	Status   Status         `json:"status"`
	Capture  CaptureSection `json:"capture"`
	Queue    QueueSection   `json:"queue"`
	Consumer consumer.Stats `json:"consumer"`
	Caches   []CacheSection `json:"caches"`
}

// Checker assembles reports from the live pipeline components.
type Checker struct {
	captureEnabled bool
	cap            *capture.Capture // nil when capture disabled
	q              *queue.Queue
	cons           *consumer.Consumer
	caches         []*cache.Cache
}

// New builds a checker. cap may be nil when capture is disabled.
func New(captureEnabled bool, cap *capture.Capture, q *queue.Queue, cons *consumer.Consumer, caches []*cache.Cache) *Checker {
	return &Checker{
		captureEnabled: captureEnabled,
		cap:            cap,
		q:              q,
		cons:           cons,
		caches:         caches,
	}
}

// Report builds the current status tree. Overall status is DOWN when
// capture is enabled but not running or queue utilisation is >= 95%,
// WARNING from 80%, else UP.
func (c *Checker) Report() Report {
	r := Report{
		Consumer: c.cons.Stats(),
	}

	r.Capture.Enabled = c.captureEnabled
	r.Capture.Status = StatusUp
	if c.captureEnabled && c.cap != nil {
		r.Capture.Stats = c.cap.Stats()
		if !r.Capture.Stats.Running {
			r.Capture.Status = StatusDown
		} else if r.Capture.Stats.PacketsDropped > 0 {
			r.Capture.Status = StatusWarning
		}
	}

	u := c.q.Utilisation()
	r.Queue = QueueSection{
		Status:             StatusUp,
		Size:               c.q.Len(),
		Capacity:           c.q.Cap(),
		UtilisationPercent: u * 100,
	}
	switch {
	case u >= 0.95:
		r.Queue.Status = StatusDown
	case u >= 0.80:
		r.Queue.Status = StatusWarning
	}

	for _, ch := range c.caches {
		st := ch.Stats()
		sec := CacheSection{Status: StatusUp, Stats: st}
		if st.Requests() >= 100 && st.HitRate < 0.5 {
			sec.Status = StatusWarning
		}
		r.Caches = append(r.Caches, sec)
	}

	r.Status = StatusUp
	switch {
	case r.Capture.Status == StatusDown || r.Queue.Status == StatusDown:
		r.Status = StatusDown
	case r.Capture.Status == StatusWarning || r.Queue.Status == StatusWarning:
		r.Status = StatusWarning
	}
	return r
}

// Handler serves the report as JSON, 503 when overall status is DOWN.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := c.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
}
