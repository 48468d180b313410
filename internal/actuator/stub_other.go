//go:build !linux

package actuator

import "fmt"

// Stub implementations for non-Linux platforms. Use the sim backend there.

func openSysfsPWM(chip string, channel int) (Driver, error) {
	return nil, fmt.Errorf("actuator: sysfs pwm unsupported on this platform")
}

func openGPIO(lineName, consumer string) (Driver, error) {
	return nil, fmt.Errorf("actuator: gpio unsupported on this platform")
}
