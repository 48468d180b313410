//go:build linux

package actuator

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fakeChip(t *testing.T, base, name string, npwm int) string {
	t.Helper()
	chip := filepath.Join(base, name)
	pwm := filepath.Join(chip, "pwm0")
	if err := os.MkdirAll(pwm, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	files := map[string]string{
		filepath.Join(chip, "npwm"):      strconv.Itoa(npwm) + "\n",
		filepath.Join(chip, "export"):    "",
		filepath.Join(pwm, "period"):     "",
		filepath.Join(pwm, "duty_cycle"): "",
		filepath.Join(pwm, "enable"):     "",
	}
	for p, v := range files {
		if err := os.WriteFile(p, []byte(v), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", p, err)
		}
	}
	return chip
}

func readAttr(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return strings.TrimSpace(string(b))
}

// Regular files are not truncated by writeSysfs, so tests reset them first.
func resetAttr(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func withSysfsBase(t *testing.T, base string) {
	t.Helper()
	old := pwmSysfsBase
	pwmSysfsBase = base
	t.Cleanup(func() { pwmSysfsBase = old })
}

func TestFindPWMChip_AcceptsSymlinkedPWMChip(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "pwm")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	realChip := fakeChip(t, dir, "realchip0", 2)
	link := filepath.Join(base, "pwmchip0")
	if err := os.Symlink(realChip, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	withSysfsBase(t, base)

	chipPath, err := findPWMChip(1)
	if err != nil {
		t.Fatalf("findPWMChip: %v", err)
	}
	if chipPath != link {
		t.Fatalf("chipPath=%q want %q", chipPath, link)
	}

	if _, err := findPWMChip(2); err == nil {
		t.Fatalf("expected error for channel beyond npwm")
	}
}

func TestSysfsPWM_PeriodAndDuty(t *testing.T) {
	base := t.TempDir()
	chip := fakeChip(t, base, "pwmchip0", 2)
	withSysfsBase(t, base)

	drv, err := openSysfsPWM("pwmchip0", 0)
	if err != nil {
		t.Fatalf("openSysfsPWM: %v", err)
	}
	pwm := filepath.Join(chip, "pwm0")

	resetAttr(t, filepath.Join(pwm, "period"))
	if err := drv.SetPeriod(400 * time.Microsecond); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	if got := readAttr(t, filepath.Join(pwm, "period")); got != "400000" {
		t.Fatalf("period=%q want 400000", got)
	}

	resetAttr(t, filepath.Join(pwm, "duty_cycle"))
	if err := drv.SetDuty(0.25); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if got := readAttr(t, filepath.Join(pwm, "duty_cycle")); got != "100000" {
		t.Fatalf("duty_cycle=%q want 100000", got)
	}

	resetAttr(t, filepath.Join(pwm, "duty_cycle"))
	if err := drv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readAttr(t, filepath.Join(pwm, "duty_cycle")); got != "0" {
		t.Fatalf("duty_cycle after close=%q want 0", got)
	}
}

func TestOpenSysfsPWM_RejectsMissingChannel(t *testing.T) {
	base := t.TempDir()
	fakeChip(t, base, "pwmchip0", 1)
	withSysfsBase(t, base)
	if _, err := openSysfsPWM("pwmchip0", 3); err == nil {
		t.Fatalf("expected error")
	}
}
