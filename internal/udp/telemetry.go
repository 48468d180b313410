package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tecctl/internal/tec"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

var nowFn = time.Now

// Datagram is the JSON payload of one telemetry packet.
type Datagram struct {
	Type   string     `json:"type"`
	TimeMS int64      `json:"time_ms"`
	Status tec.Status `json:"status"`
}

// Telemetry sends one datagram per controller cycle. It implements
// tec.Observer; send failures are counted and never reach the control loop.
type Telemetry struct {
	dest string
	log  zerolog.Logger

	mu      sync.Mutex
	conn    udpConn
	sent    uint64
	errs    uint64
	failing bool
}

func NewTelemetry(dest string, log zerolog.Logger) (*Telemetry, error) {
	return newTelemetry(dest, log, net.ResolveUDPAddr, dialUDP)
}

func newTelemetry(dest string, log zerolog.Logger, resolve resolveFunc, dial dialFunc) (*Telemetry, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Telemetry{dest: dest, conn: conn, log: log.With().Str("dest", dest).Logger()}, nil
}

// Observe implements tec.Observer.
func (t *Telemetry) Observe(st tec.Status) {
	payload, err := json.Marshal(Datagram{Type: "tec_status", TimeMS: nowFn().UnixMilli(), Status: st})
	if err != nil {
		return
	}
	_ = t.Send(payload)
}

func (t *Telemetry) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("udp: telemetry closed")
	}
	if _, err := t.conn.Write(payload); err != nil {
		t.errs++
		if !t.failing {
			t.log.Warn().Err(err).Msg("telemetry send failed")
		}
		t.failing = true
		return err
	}
	t.sent++
	t.failing = false
	return nil
}

// Counts returns datagrams sent and failed.
func (t *Telemetry) Counts() (sent, errs uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.errs
}

func (t *Telemetry) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
