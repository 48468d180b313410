package bmp280

import (
	"encoding/binary"
	"fmt"
	"time"

	"tecctl/internal/i2c"
)

var sleep = time.Sleep

// Temperature-only BMP280/BME280 driver. Pressure oversampling is skipped so
// each conversion is short enough for the 0.25s poll.

const (
	AddrPrimary   = 0x76
	AddrSecondary = 0x77

	regID        = 0xD0
	chipIDBMP280 = 0x58
	chipIDBME280 = 0x60

	regReset = 0xE0
	resetCmd = 0xB6

	regCalibT = 0x88
	calibTLen = 6

	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regTempMsb  = 0xFA

	// osrs_t=x2, osrs_p=skipped, mode=normal.
	ctrlMeasTempOnly = byte(0x02<<5) | 0x03
	// t_sb=62.5ms, IIR filter x4.
	configValue = byte(0x01<<5) | byte(0x02<<2)
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Device is a configured sensor.
type Device struct {
	dev    regIO
	chipID byte

	digT1 uint16
	digT2 int16
	digT3 int16
}

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	d := &Device{dev: dev}

	id, err := d.dev.ReadRegU8(regID)
	if err != nil {
		return nil, fmt.Errorf("bmp280: id read failed: %w", err)
	}
	if id != chipIDBMP280 && id != chipIDBME280 {
		return nil, fmt.Errorf("bmp280: chip id=0x%02X want 0x%02X or 0x%02X", id, chipIDBMP280, chipIDBME280)
	}
	d.chipID = id

	// NVM coefficients are copied after reset and read back as zeros for a
	// couple of milliseconds.
	_ = d.dev.WriteReg(regReset, resetCmd)
	sleep(5 * time.Millisecond)

	var calibErr error
	for i := 0; i < 3; i++ {
		if calibErr = d.readCalibration(); calibErr == nil && d.digT1 != 0 {
			break
		}
		if calibErr == nil {
			calibErr = fmt.Errorf("bmp280: calibration invalid (digT1=0)")
		}
		sleep(5 * time.Millisecond)
	}
	if calibErr != nil {
		return nil, calibErr
	}

	if err := d.dev.WriteReg(regConfig, configValue); err != nil {
		return nil, fmt.Errorf("bmp280: config write failed: %w", err)
	}
	if err := d.dev.WriteReg(regCtrlMeas, ctrlMeasTempOnly); err != nil {
		return nil, fmt.Errorf("bmp280: ctrl_meas write failed: %w", err)
	}
	return d, nil
}

func (d *Device) ChipID() byte { return d.chipID }

func (d *Device) readCalibration() error {
	buf := make([]byte, calibTLen)
	if err := d.dev.ReadReg(regCalibT, buf); err != nil {
		return fmt.Errorf("bmp280: read calib failed: %w", err)
	}
	d.digT1 = binary.LittleEndian.Uint16(buf[0:2])
	d.digT2 = int16(binary.LittleEndian.Uint16(buf[2:4]))
	d.digT3 = int16(binary.LittleEndian.Uint16(buf[4:6]))
	return nil
}

// ReadC returns the compensated temperature in degrees C.
func (d *Device) ReadC() (float64, error) {
	buf := make([]byte, 3)
	if err := d.dev.ReadReg(regTempMsb, buf); err != nil {
		return 0, fmt.Errorf("bmp280: read temp failed: %w", err)
	}
	adcT := int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4
	// 0x80000 is the reset value, seen before the first conversion completes.
	if adcT == 0x80000 {
		return 0, fmt.Errorf("bmp280: no conversion yet")
	}
	return d.compensate(adcT), nil
}

// compensate is the floating point formula from the datasheet.
func (d *Device) compensate(adcT int32) float64 {
	var1 := (float64(adcT)/16384.0 - float64(d.digT1)/1024.0) * float64(d.digT2)
	var2 := float64(adcT)/131072.0 - float64(d.digT1)/8192.0
	var2 = var2 * var2 * float64(d.digT3)
	return (var1 + var2) / 5120.0
}
