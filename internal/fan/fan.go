// Package fan is a small open-loop fan-speed controller: it turns a
// target RPM into a PWM duty cycle and ramps toward it (no PID loop),
// and reports back whatever the tachometer measures through the sensor
// facade.
package fan

import (
	"sync"
	"time"

	"ichnaea/hal"
	"ichnaea/internal/sensorfacade"
	"ichnaea/x/mathx"
	"ichnaea/x/ramp"
)

const (
	// Duty is expressed in parts out of 1000, not a 0-100 percentage.
	dutyTop        = 1000
	pwmFrequencyHz = 1000

	rampSteps      = 20
	rampDurationMs = 500

	// maxRPM is the board's rated fan speed, used only to translate a
	// target RPM into an open-loop duty fraction; the tachometer reading
	// never feeds back into this computation.
	maxRPM = 6000
)

// Sensors is the subset of the sensor facade the controller reads its
// tachometer measurement back from.
type Sensors interface {
	Measurement(elem sensorfacade.Element, mode sensorfacade.Mode) (float32, error)
}

// Device drives one PWM-controlled fan and reports its tachometer speed.
type Device struct {
	mu           sync.Mutex
	pwm          hal.PWM
	sensors      Sensors
	dutyPermille uint16
	cancel       chan struct{}
}

// New returns a Device at zero duty (fan off).
func New(pwm hal.PWM, sensors Sensors) *Device {
	return &Device{pwm: pwm, sensors: sensors}
}

// SetTargetRPM ramps the fan's duty cycle toward the open-loop duty
// implied by rpm, cancelling any ramp already in flight. Wired as the
// consumer of the target_fan_speed_rpm PDI key.
func (d *Device) SetTargetRPM(rpm float32) {
	clamped := mathx.Clamp(rpm, 0, float32(maxRPM))
	targetDuty := uint16(clamped / maxRPM * dutyTop)

	d.mu.Lock()
	if d.cancel != nil {
		close(d.cancel)
	}
	cancel := make(chan struct{})
	d.cancel = cancel
	cur := d.dutyPermille
	d.mu.Unlock()

	go ramp.StartLinear(cur, targetDuty, dutyTop, rampDurationMs, rampSteps,
		func(dur time.Duration) bool {
			timer := time.NewTimer(dur)
			defer timer.Stop()
			select {
			case <-cancel:
				return false
			case <-timer.C:
				return true
			}
		},
		func(level uint16) {
			d.mu.Lock()
			d.dutyPermille = level
			d.mu.Unlock()
			_ = d.pwm.Configure(pwmFrequencyHz, level)
		},
	)
}

// MeasuredRPM returns the fan's last-sampled tachometer reading: the
// cached value of the FanSpeed element the FAN_SPEED monitor refreshes.
func (d *Device) MeasuredRPM() float32 {
	v, _ := d.sensors.Measurement(sensorfacade.FanSpeed, sensorfacade.Cached)
	return v
}
