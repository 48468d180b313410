package sensors

import (
	"fmt"
	"strings"

	"tecctl/internal/i2c"
	"tecctl/internal/sensors/bmp280"
)

const (
	TypeThermal = "thermal"
	TypeBMP280  = "bmp280"
	TypeSim     = "sim"
)

// Spec selects one hardware temperature source.
type Spec struct {
	Type string
	// Path is the sysfs file for thermal sensors.
	Path string
	// Bus and Addr locate a BMP280.
	Bus  string
	Addr uint16
}

var openI2CFn = openBMP280

// Open returns a reader for a hardware sensor. Simulated sensors come from
// the plant model instead.
func Open(sp Spec) (ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(sp.Type)) {
	case TypeThermal, "hwmon":
		if strings.TrimSpace(sp.Path) == "" {
			return nil, fmt.Errorf("sensors: thermal sensor needs a path")
		}
		return NewThermal(sp.Path), nil
	case TypeBMP280:
		bus := sp.Bus
		if bus == "" {
			bus = "/dev/i2c-1"
		}
		addr := sp.Addr
		if addr == 0 {
			addr = bmp280.AddrPrimary
		}
		return openI2CFn(bus, addr)
	case TypeSim:
		return nil, fmt.Errorf("sensors: sim sensors are created by the simulator")
	default:
		return nil, fmt.Errorf("sensors: unknown type %q", sp.Type)
	}
}

type bmpSensor struct {
	bus *i2c.Bus
	dev *bmp280.Device
}

func openBMP280(busPath string, addr uint16) (ReadCloser, error) {
	bus, err := i2c.Open(busPath)
	if err != nil {
		return nil, fmt.Errorf("sensors: open %s: %w", busPath, err)
	}
	dev, err := bmp280.New(bus.Dev(addr))
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("sensors: bmp280 0x%02X on %s: %w", addr, busPath, err)
	}
	return &bmpSensor{bus: bus, dev: dev}, nil
}

func (s *bmpSensor) ReadC() (float64, error) { return s.dev.ReadC() }

func (s *bmpSensor) Close() error { return s.bus.Close() }
