package pdi

import "hash/fnv"

// HashKey computes the stable 32-bit key for a behavioral PDI name. Using
// FNV-1a keeps this deterministic across builds without requiring a
// generated key table.
func HashKey(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// Behavioral key names. Declared as vars, not consts, because HashKey is
// computed at init time rather than at compile time.
var (
	KeyConfigMaxSystemVoltageInput            = HashKey("config_max_system_voltage_input")
	KeyConfigMinSystemVoltageInput            = HashKey("config_min_system_voltage_input")
	KeyConfigMaxTempLimit                     = HashKey("config_max_temp_limit")
	KeyConfigMinTempLimit                     = HashKey("config_min_temp_limit")
	KeyConfigLtcPhaseInductorDCR              = HashKey("config_ltc_phase_inductor_dcr")
	KeyConfigSystemVoltageOutputRatedLimit    = HashKey("config_system_voltage_output_rated_limit")
	KeyConfigSystemCurrentOutputRatedLimit    = HashKey("config_system_current_output_rated_limit")
	KeyConfigPhaseCurrentOutputRatedLimit     = HashKey("config_phase_current_output_rated_limit")
	KeyConfigMaxSystemVoltageInputRatedLimit  = HashKey("config_max_system_voltage_input_rated_limit")
	KeyConfigMinSystemVoltageInputRatedLimit  = HashKey("config_min_system_voltage_input_rated_limit")
	KeyPgoodMonitorTimeoutMs                  = HashKey("pgood_monitor_timeout_ms")
	KeyTargetSystemVoltageOutput              = HashKey("target_system_voltage_output")
	KeyTargetSystemCurrentOutput              = HashKey("target_system_current_output")
	KeyTargetPhaseCurrentOutput               = HashKey("target_phase_current_output")
	KeyTargetFanSpeedRPM                      = HashKey("target_fan_speed_rpm")
	KeyCalOutputCurrent                       = HashKey("cal_output_current")
	KeyBootCount                              = HashKey("boot_count")

	// Per-signal filter configs.
	KeyMonFilterInputVoltage  = HashKey("mon_filter_input_voltage")
	KeyMonFilterOutputCurrent = HashKey("mon_filter_output_current")
	KeyMonFilterOutputVoltage = HashKey("mon_filter_output_voltage")
	KeyMonFilter1V1           = HashKey("mon_filter_1v1")
	KeyMonFilter3V3           = HashKey("mon_filter_3v3")
	KeyMonFilter5V0           = HashKey("mon_filter_5v0")
	KeyMonFilter12V0          = HashKey("mon_filter_12v0")
	KeyMonFilterTemperature   = HashKey("mon_filter_temperature")
	KeyMonFilterFanSpeed      = HashKey("mon_filter_fan_speed")

	// Per-signal OOR debounce and error-band config.
	KeyMonInputVoltageOorEntryDelayMs  = HashKey("mon_input_voltage_oor_entry_delay_ms")
	KeyMonInputVoltageOorExitDelayMs   = HashKey("mon_input_voltage_oor_exit_delay_ms")
	KeyMonLoadOvercurrentOorEntryDelayMs = HashKey("mon_load_overcurrent_oor_entry_delay_ms")
	KeyMonLoadOvercurrentOorExitDelayMs  = HashKey("mon_load_overcurrent_oor_exit_delay_ms")
	KeyMonLoadVoltageOorEntryDelayMs   = HashKey("mon_load_voltage_oor_entry_delay_ms")
	KeyMonLoadVoltageOorExitDelayMs    = HashKey("mon_load_voltage_oor_exit_delay_ms")
	KeyMonLoadVoltagePctErrorOorLimit  = HashKey("mon_load_voltage_pct_error_oor_limit")
	KeyMonTemperatureOorEntryDelayMs   = HashKey("mon_temperature_oor_entry_delay_ms")
	KeyMonTemperatureOorExitDelayMs    = HashKey("mon_temperature_oor_exit_delay_ms")
	KeyMonFanSpeedOorEntryDelayMs      = HashKey("mon_fan_speed_oor_entry_delay_ms")
	KeyMonFanSpeedOorExitDelayMs       = HashKey("mon_fan_speed_oor_exit_delay_ms")
	KeyMonFanSpeedPctErrorOorLimit     = HashKey("mon_fan_speed_pct_error_oor_limit")
	KeyMon1V1OorEntryDelayMs  = HashKey("mon_1v1_oor_entry_delay_ms")
	KeyMon1V1OorExitDelayMs   = HashKey("mon_1v1_oor_exit_delay_ms")
	KeyMon3V3OorEntryDelayMs  = HashKey("mon_3v3_oor_entry_delay_ms")
	KeyMon3V3OorExitDelayMs   = HashKey("mon_3v3_oor_exit_delay_ms")
	KeyMon5V0OorEntryDelayMs  = HashKey("mon_5v0_oor_entry_delay_ms")
	KeyMon5V0OorExitDelayMs   = HashKey("mon_5v0_oor_exit_delay_ms")
	KeyMon12V0OorEntryDelayMs = HashKey("mon_12v0_oor_entry_delay_ms")
	KeyMon12V0OorExitDelayMs  = HashKey("mon_12v0_oor_exit_delay_ms")

	// Volatile telemetry: raw / filtered / valid, one triple per signal.
	KeyMonInputVoltageRaw       = HashKey("mon_input_voltage_raw")
	KeyMonInputVoltageFiltered  = HashKey("mon_input_voltage_filtered")
	KeyMonInputVoltageValid     = HashKey("mon_input_voltage_valid")
	KeyMonOutputCurrentRaw      = HashKey("mon_output_current_raw")
	KeyMonOutputCurrentFiltered = HashKey("mon_output_current_filtered")
	KeyMonOutputCurrentValid    = HashKey("mon_output_current_valid")
	KeyMonOutputVoltageRaw      = HashKey("mon_output_voltage_raw")
	KeyMonOutputVoltageFiltered = HashKey("mon_output_voltage_filtered")
	KeyMonOutputVoltageValid    = HashKey("mon_output_voltage_valid")
	KeyMon1V1Filtered           = HashKey("mon_1v1_filtered")
	KeyMon1V1Valid              = HashKey("mon_1v1_valid")
	KeyMon3V3Filtered           = HashKey("mon_3v3_filtered")
	KeyMon3V3Valid              = HashKey("mon_3v3_valid")
	KeyMon5V0Filtered           = HashKey("mon_5v0_filtered")
	KeyMon5V0Valid              = HashKey("mon_5v0_valid")
	KeyMon12V0Filtered          = HashKey("mon_12v0_filtered")
	KeyMon12V0Valid             = HashKey("mon_12v0_valid")
	KeyMonTemperatureFiltered   = HashKey("mon_temperature_filtered")
	KeyMonTemperatureValid      = HashKey("mon_temperature_valid")
	KeyMonFanSpeedFiltered      = HashKey("mon_fan_speed_filtered")
	KeyMonFanSpeedValid         = HashKey("mon_fan_speed_valid")
)
