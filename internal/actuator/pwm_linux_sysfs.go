//go:build linux

package actuator

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm.
//
// On Raspberry Pi this typically needs `dtoverlay=pwm-2chan` so the header
// pins are exposed as pwmchip channels.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

func openSysfsPWM(chip string, channel int) (Driver, error) {
	var chipPath string
	if chip != "" {
		chipPath = filepath.Join(pwmSysfsBase, chip)
		n, err := readInt(filepath.Join(chipPath, "npwm"))
		if err != nil {
			return nil, fmt.Errorf("actuator: read %s npwm: %w", chip, err)
		}
		if channel >= n {
			return nil, fmt.Errorf("actuator: %s has %d channels, want channel %d", chip, n, channel)
		}
	} else {
		p, err := findPWMChip(channel)
		if err != nil {
			return nil, err
		}
		chipPath = p
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.writeBool("enable", false); err == nil {
		d.enabled = false
	}
	return d, nil
}

// findPWMChip returns the first pwmchip exposing at least channel+1 channels.
// pwmchipN entries are commonly symlinks, not directories.
func findPWMChip(channel int) (string, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("actuator: read %s: %w", pwmSysfsBase, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		chip := filepath.Join(pwmSysfsBase, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("actuator: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		// Already exported by someone else.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("actuator: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("actuator: pwm path not created after export: %w", err)
	}
	return nil
}

// Close leaves the TEC unpowered.
func (d *sysfsPWM) Close() error {
	err := d.SetDuty(0)
	_ = d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("actuator: invalid period %s", period)
	}
	periodNS := uint64(period.Nanoseconds())

	// Duty must not exceed the period, so clear it before shrinking.
	_ = d.writeBool("enable", false)
	d.enabled = false
	_ = d.writeUint("duty_cycle", 0)

	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func (d *sysfsPWM) SetDuty(fraction float64) error {
	fraction = math.Max(0, math.Min(1, fraction))
	if d.periodNS == 0 {
		d.periodNS = uint64(DefaultCycleTime.Nanoseconds())
		if err := d.writeUint("period", d.periodNS); err != nil {
			return err
		}
	}

	duty := uint64(math.Round(float64(d.periodNS) * fraction))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}
	if !d.enabled {
		_ = d.writeBool("enable", true)
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens with O_WRONLY only: some attributes reject O_TRUNC.
// Right after export udev may still be fixing permissions, so EACCES and
// ENOENT are retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		if werr != nil {
			lastErr = werr
		} else {
			lastErr = cerr
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return errors.Join(werr, cerr)
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s: empty", path)
	}
	return strconv.Atoi(s)
}
