package sensors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Thermal reads a sysfs thermal zone or hwmon temp*_input file.
type Thermal struct {
	path string
}

func NewThermal(path string) *Thermal {
	return &Thermal{path: path}
}

func (t *Thermal) Path() string { return t.path }

func (t *Thermal) ReadC() (float64, error) {
	b, err := os.ReadFile(t.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", t.path, err)
	}
	return parseMilliC(string(b))
}

func (t *Thermal) Close() error { return nil }

// parseMilliC accepts milli-degrees (the usual kernel unit) and plain
// degrees; values above 1000 are treated as milli-degrees.
func parseMilliC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("temperature empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("parse temperature %q: %w", s, err)
		}
		return f, nil
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}
