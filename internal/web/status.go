package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tecctl/internal/tec"
)

// TEC is the slice of a controller the HTTP layer needs.
// *tec.Controller implements it.
type TEC interface {
	Name() string
	Status() tec.Status
	Apply(cmd tec.Command) (string, error)
}

// Status is the registry of controllers served by the API. Controllers are
// handed in explicitly by the host; there is no global lookup.
type Status struct {
	startUnixNano int64
	shutdown      atomic.Value // string

	mu      sync.RWMutex
	tecs    map[string]TEC
	details map[string]func() any
}

func NewStatus() *Status {
	s := &Status{
		tecs:    map[string]TEC{},
		details: map[string]func() any{},
	}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.shutdown.Store("")
	return s
}

// Add registers a controller. details, if set, is rendered next to the
// controller status (actuator and sensor state).
func (s *Status) Add(t TEC, details func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tecs[t.Name()] = t
	if details != nil {
		s.details[t.Name()] = details
	}
}

func (s *Status) Lookup(name string) (TEC, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tecs[name]
	return t, ok
}

// MarkShutdown records the process shutdown reason.
func (s *Status) MarkShutdown(reason string) {
	s.shutdown.Store(reason)
}

// InstanceSnapshot is one controller as seen by the API.
type InstanceSnapshot struct {
	tec.Status
	Details any `json:"details,omitempty"`
}

type StatusSnapshot struct {
	Service        string             `json:"service"`
	NowUTC         string             `json:"now_utc"`
	UptimeSec      int64              `json:"uptime_sec"`
	ShutdownReason string             `json:"shutdown_reason,omitempty"`
	TECs           []InstanceSnapshot `json:"tecs"`
}

func (s *Status) instance(name string) (InstanceSnapshot, bool) {
	s.mu.RLock()
	t, ok := s.tecs[name]
	details := s.details[name]
	s.mu.RUnlock()
	if !ok {
		return InstanceSnapshot{}, false
	}
	snap := InstanceSnapshot{Status: t.Status()}
	if details != nil {
		snap.Details = details()
	}
	return snap, true
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	s.mu.RLock()
	names := make([]string, 0, len(s.tecs))
	for name := range s.tecs {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	snap := StatusSnapshot{
		Service:        "tecctl",
		NowUTC:         nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:      int64(nowUTC.Sub(start).Seconds()),
		ShutdownReason: s.shutdown.Load().(string),
		TECs:           make([]InstanceSnapshot, 0, len(names)),
	}
	for _, name := range names {
		if inst, ok := s.instance(name); ok {
			snap.TECs = append(snap.TECs, inst)
		}
	}
	return snap
}
