package actuator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Driver is the minimal interface the actuator needs from a PWM backend.
//
// Duty is a fraction in [0,1]. Close should be best-effort and leave the
// output off.
type Driver interface {
	SetPeriod(period time.Duration) error
	SetDuty(fraction float64) error
	Close() error
}

// Config selects and parameterizes a hardware backend.
type Config struct {
	// Pin is "pwmchipN/M" (or "M", chip discovered) for hardware PWM and a
	// GPIO line name such as "GPIO18" (or bare "18") for software PWM.
	Pin string
	// CycleTime is the PWM period; 0 < CycleTime <= 250ms.
	CycleTime time.Duration
	// HardwarePWM selects the sysfs PWM backend instead of a GPIO line.
	HardwarePWM bool
	// Consumer labels the GPIO line request.
	Consumer string
}

// MaxCycleTime bounds the PWM period to the poll interval.
const MaxCycleTime = 250 * time.Millisecond

// DefaultCycleTime matches the common 2.5kHz TEC driver setup.
const DefaultCycleTime = 400 * time.Microsecond

// MaxDuration is how long a command stays valid without a refresh.
const MaxDuration = 5 * time.Second

func (c Config) Validate() error {
	if c.CycleTime <= 0 || c.CycleTime > MaxCycleTime {
		return fmt.Errorf("pwm_cycle_time must be in (0,%s]", MaxCycleTime)
	}
	if strings.TrimSpace(c.Pin) == "" {
		return fmt.Errorf("pin is required")
	}
	return nil
}

var openSysfsFn = openSysfsPWM
var openGPIOFn = openGPIO

// Open opens the backend selected by cfg and programs its period.
func Open(cfg Config) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("actuator: %w", err)
	}
	var (
		drv Driver
		err error
	)
	if cfg.HardwarePWM {
		chip, channel, perr := parseSysfsPin(cfg.Pin)
		if perr != nil {
			return nil, perr
		}
		drv, err = openSysfsFn(chip, channel)
	} else {
		consumer := cfg.Consumer
		if consumer == "" {
			consumer = "tecctl"
		}
		drv, err = openGPIOFn(gpioLineName(cfg.Pin), consumer)
	}
	if err != nil {
		return nil, err
	}
	if err := drv.SetPeriod(cfg.CycleTime); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("actuator: set period failed: %w", err)
	}
	return drv, nil
}

// parseSysfsPin splits "pwmchip0/1" into chip and channel. A bare channel
// leaves chip empty so the first usable pwmchip is picked.
func parseSysfsPin(pin string) (chip string, channel int, err error) {
	pin = strings.TrimSpace(pin)
	chanStr := pin
	if i := strings.LastIndex(pin, "/"); i >= 0 {
		chip = pin[:i]
		chanStr = pin[i+1:]
	}
	channel, err = strconv.Atoi(chanStr)
	if err != nil || channel < 0 {
		return "", 0, fmt.Errorf("actuator: invalid pwm pin %q (want pwmchipN/M)", pin)
	}
	if chip != "" && !strings.HasPrefix(chip, "pwmchip") {
		return "", 0, fmt.Errorf("actuator: invalid pwm chip %q", chip)
	}
	return chip, channel, nil
}

// gpioLineName maps BCM numbers to the line names Raspberry Pi kernels use.
func gpioLineName(pin string) string {
	pin = strings.TrimSpace(pin)
	if n, err := strconv.Atoi(pin); err == nil {
		return fmt.Sprintf("GPIO%d", n)
	}
	return pin
}
