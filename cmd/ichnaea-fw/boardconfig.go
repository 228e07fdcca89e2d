package main

import "github.com/andreyvit/tinyjson"

// boardConfigJSON is the board-bringup blob a real board-bringup package
// would supply per board revision. Until that package exists this one
// literal stands in for every board this binary is wired against.
const boardConfigJSON = `{
  "board_rev_ge2": true,
  "vlow_ra_ohm": 15000,
  "vlow_rb_ohm": 470000,
  "setcur_rfb_ohm": 10000,
  "ilim_gain_k": 40,
  "ltc_phase_inductor_dcr_ohm": 0.003,
  "max_system_voltage_input": 90,
  "min_system_voltage_input": 15,
  "max_temp_limit": 85,
  "min_temp_limit": -10,
  "system_voltage_output_rated_limit": 58,
  "system_current_output_rated_limit": 150,
  "phase_current_output_rated_limit": 30,
  "max_system_voltage_input_rated_limit": 100,
  "min_system_voltage_input_rated_limit": 10,
  "pgood_monitor_timeout_ms": 50,
  "target_system_voltage_output": 48,
  "target_system_current_output": 100,
  "target_phase_current_output": 20,
  "target_fan_speed_rpm": 3000,
  "cal_output_current": 20,
  "load_voltage_pct_error_oor_limit": 0.05,
  "fan_speed_pct_error_oor_limit": 0.05
}`

// BoardConfig holds the bring-up constants a board-bringup package would
// otherwise supply: controller strapping, PDI config defaults and the
// board revision gate. Decoded once at boot from boardConfigJSON.
type BoardConfig struct {
	BoardRevGE2 bool

	VLowRa    float32
	VLowRb    float32
	SetCurRfb float32
	IlimGainK float32

	LtcPhaseInductorDCR              float32
	MaxSystemVoltageInput            float32
	MinSystemVoltageInput            float32
	MaxTempLimit                     float32
	MinTempLimit                     float32
	SystemVoltageOutputRatedLimit    float32
	SystemCurrentOutputRatedLimit    float32
	PhaseCurrentOutputRatedLimit     float32
	MaxSystemVoltageInputRatedLimit  float32
	MinSystemVoltageInputRatedLimit  float32
	PgoodMonitorTimeoutMs            uint32
	TargetSystemVoltageOutput        float32
	TargetSystemCurrentOutput        float32
	TargetPhaseCurrentOutput         float32
	TargetFanSpeedRPM                float32
	CalOutputCurrent                 float32
	LoadVoltagePctErrorOorLimit      float32
	FanSpeedPctErrorOorLimit         float32
}

// decodeBoardConfig decodes a board-bringup JSON blob:
// tinyjson.Raw.Value() into a map[string]any, then EnsureEOF to catch
// any trailing garbage, rather than unmarshaling into a struct directly
// (tinyjson has no struct-tag reflection path).
func decodeBoardConfig(raw []byte) BoardConfig {
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, _ := val.(map[string]any)

	f32 := func(key string) float32 {
		v, _ := m[key].(float64)
		return float32(v)
	}
	u32 := func(key string) uint32 {
		v, _ := m[key].(float64)
		return uint32(v)
	}
	b := func(key string) bool {
		v, _ := m[key].(bool)
		return v
	}

	return BoardConfig{
		BoardRevGE2: b("board_rev_ge2"),

		VLowRa:    f32("vlow_ra_ohm"),
		VLowRb:    f32("vlow_rb_ohm"),
		SetCurRfb: f32("setcur_rfb_ohm"),
		IlimGainK: f32("ilim_gain_k"),

		LtcPhaseInductorDCR:             f32("ltc_phase_inductor_dcr_ohm"),
		MaxSystemVoltageInput:           f32("max_system_voltage_input"),
		MinSystemVoltageInput:           f32("min_system_voltage_input"),
		MaxTempLimit:                    f32("max_temp_limit"),
		MinTempLimit:                    f32("min_temp_limit"),
		SystemVoltageOutputRatedLimit:   f32("system_voltage_output_rated_limit"),
		SystemCurrentOutputRatedLimit:   f32("system_current_output_rated_limit"),
		PhaseCurrentOutputRatedLimit:    f32("phase_current_output_rated_limit"),
		MaxSystemVoltageInputRatedLimit: f32("max_system_voltage_input_rated_limit"),
		MinSystemVoltageInputRatedLimit: f32("min_system_voltage_input_rated_limit"),
		PgoodMonitorTimeoutMs:           u32("pgood_monitor_timeout_ms"),
		TargetSystemVoltageOutput:       f32("target_system_voltage_output"),
		TargetSystemCurrentOutput:       f32("target_system_current_output"),
		TargetPhaseCurrentOutput:        f32("target_phase_current_output"),
		TargetFanSpeedRPM:               f32("target_fan_speed_rpm"),
		CalOutputCurrent:                f32("cal_output_current"),
		LoadVoltagePctErrorOorLimit:     f32("load_voltage_pct_error_oor_limit"),
		FanSpeedPctErrorOorLimit:        f32("fan_speed_pct_error_oor_limit"),
	}
}
