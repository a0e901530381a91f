package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gaspardpetit/uigen/internal/inflight"
	"github.com/gaspardpetit/uigen/internal/serverstate"
)

// HostStats is a best-effort view of the machine the relay runs on.
type HostStats struct {
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Status        string     `json:"status"`
	Draining      bool       `json:"draining"`
	Inflight      int64      `json:"inflight"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Host          *HostStats `json:"host,omitempty"`
}

// StateHandler serves state snapshots.
type StateHandler struct {
	State    *serverstate.Tracker
	Inflight *inflight.Counter
	Started  time.Time
	Log      zerolog.Logger
	// Host is replaced in tests; nil disables host stats.
	Host func() (*HostStats, error)
}

// SystemHostStats reads load averages and memory use from the OS.
func SystemHostStats() (*HostStats, error) {
	avg, err := load.Avg()
	if err != nil {
		return nil, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	return &HostStats{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15, MemUsedPercent: vm.UsedPercent}, nil
}

// GetState returns a JSON snapshot.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	st := h.State.Snapshot()
	resp := StateResponse{
		Status:        st.Status,
		Draining:      st.Draining,
		Inflight:      h.Inflight.Load(),
		UptimeSeconds: time.Since(h.Started).Seconds(),
	}
	if h.Host != nil {
		hs, err := h.Host()
		if err != nil {
			h.Log.Debug().Err(err).Msg("host stats unavailable")
		} else {
			resp.Host = hs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler reports 200 while serving and 503 once draining starts.
func HealthHandler(state *serverstate.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := state.Snapshot()
		code := http.StatusOK
		if st.Draining {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": st.Status})
	}
}
