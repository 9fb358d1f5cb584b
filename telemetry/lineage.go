package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/hk"
)

// LineageHeartbeat emits the current aggregated facets to a lineage
// endpoint every H_lineage seconds (spec §4.8 item 6), registered as a task
// on the hk housekeeper rather than running its own ticker.
type LineageHeartbeat struct {
	url       string
	apiKey    string
	runID     string
	filterID  string
	reg       *Registry
	client    *http.Client
	taskName  string
}

type lineageEvent struct {
	RunID    string    `json:"run_id"`
	FilterID string    `json:"filter_id"`
	TS       int64     `json:"ts"`
	Metrics  []Sample  `json:"metrics"`
}

func NewLineageHeartbeat(url, apiKey, runID, filterID string, reg *Registry) *LineageHeartbeat {
	return &LineageHeartbeat{
		url: url, apiKey: apiKey, runID: runID, filterID: filterID, reg: reg,
		client:   &http.Client{Timeout: 5 * time.Second},
		taskName: "lineage-heartbeat." + filterID,
	}
}

// Start registers the heartbeat against hk.DefaultHK so it fires every
// interval until Stop unregisters it.
func (lh *LineageHeartbeat) Start(interval time.Duration) {
	hk.DefaultHK.Reg(lh.taskName, func() time.Duration {
		lh.fire()
		return interval
	}, interval)
}

func (lh *LineageHeartbeat) Stop() { hk.DefaultHK.Unreg(lh.taskName) }

func (lh *LineageHeartbeat) fire() {
	if lh.url == "" {
		return
	}
	ev := lineageEvent{RunID: lh.runID, FilterID: lh.filterID, TS: time.Now().UnixNano(), Metrics: lh.reg.Snapshot()}
	body, err := json.Marshal(&ev)
	if err != nil {
		nlog.Warningf("lineage: marshal heartbeat failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lh.url, bytes.NewReader(body))
	if err != nil {
		nlog.Warningf("lineage: build request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if lh.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+lh.apiKey)
	}
	resp, err := lh.client.Do(req)
	if err != nil {
		nlog.Warningf("lineage: heartbeat POST failed: %v", err)
		return
	}
	resp.Body.Close()
}
