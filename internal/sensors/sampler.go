package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var nowFn = time.Now

// ErrNoSample is returned until the first successful read.
var ErrNoSample = errors.New("sensors: no sample yet")

// Reader is a blocking temperature read in degrees C.
type Reader interface {
	ReadC() (float64, error)
}

// ReadCloser is a Reader that owns a device handle.
type ReadCloser interface {
	Reader
	Close() error
}

// SamplerSnapshot is the sampler state exposed on the status API.
type SamplerSnapshot struct {
	Name      string    `json:"name"`
	TempC     float64   `json:"temp_c"`
	Valid     bool      `json:"valid"`
	Reads     uint64    `json:"reads"`
	Errors    uint64    `json:"errors"`
	LastRead  time.Time `json:"last_read_utc,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Sampler polls a Reader in the background so the control loop never blocks
// on bus I/O. Temperature returns the newest value, or an error once the
// newest value is older than maxAge.
type Sampler struct {
	r        Reader
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
	onError  func(error)

	mu       sync.Mutex
	snap     SamplerSnapshot
	failing  bool
	lastGood time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSampler(name string, r Reader, interval, maxAge time.Duration, log zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if maxAge <= 0 {
		maxAge = 10 * interval
	}
	return &Sampler{
		r:        r,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With().Str("sensor", name).Logger(),
		snap:     SamplerSnapshot{Name: name},
		stopCh:   make(chan struct{}),
	}
}

// OnError registers fn to be called after every failed read. It must be set
// before Start.
func (s *Sampler) OnError(fn func(error)) {
	s.onError = fn
}

// Start takes one sample synchronously, then keeps sampling until ctx is done
// or Close is called.
func (s *Sampler) Start(ctx context.Context) {
	s.sample()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-t.C:
				s.sample()
			}
		}
	}()
}

func (s *Sampler) sample() {
	v, err := s.r.ReadC()
	if err != nil && s.onError != nil {
		s.onError(err)
	}
	now := nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Reads++
	if err != nil {
		s.snap.Errors++
		s.snap.LastError = err.Error()
		if !s.failing {
			s.log.Warn().Err(err).Msg("sensor read failed")
		}
		s.failing = true
		return
	}
	if s.failing {
		s.log.Info().Float64("temp_c", v).Msg("sensor recovered")
	}
	s.failing = false
	s.snap.TempC = v
	s.snap.Valid = true
	s.snap.LastRead = now.UTC()
	s.snap.LastError = ""
	s.lastGood = now
}

// Temperature implements tec.TemperatureSource. eventtime is unused; the
// staleness check runs on the wall clock the samples were taken on.
func (s *Sampler) Temperature(eventtime float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Valid {
		if s.snap.LastError != "" {
			return 0, fmt.Errorf("%w: %s", ErrNoSample, s.snap.LastError)
		}
		return 0, ErrNoSample
	}
	if age := nowFn().Sub(s.lastGood); age > s.maxAge {
		if s.snap.LastError != "" {
			return 0, fmt.Errorf("sensors: %s stale for %s: %s", s.snap.Name, age.Round(time.Millisecond), s.snap.LastError)
		}
		return 0, fmt.Errorf("sensors: %s stale for %s", s.snap.Name, age.Round(time.Millisecond))
	}
	return s.snap.TempC, nil
}

func (s *Sampler) Snapshot() SamplerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Close stops sampling and closes the reader when it owns a handle.
func (s *Sampler) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if c, ok := s.r.(ReadCloser); ok {
			err = c.Close()
		}
	})
	return err
}
