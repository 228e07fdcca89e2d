package main

import "testing"

func TestDecodeBoardConfig(t *testing.T) {
	cfg := decodeBoardConfig([]byte(boardConfigJSON))

	if !cfg.BoardRevGE2 {
		t.Fatalf("BoardRevGE2 = false, want true")
	}
	if cfg.VLowRa != 15_000 || cfg.VLowRb != 470_000 {
		t.Fatalf("VLowRa/VLowRb = %v/%v, want 15000/470000", cfg.VLowRa, cfg.VLowRb)
	}
	if cfg.SetCurRfb != 10_000 || cfg.IlimGainK != 40 {
		t.Fatalf("SetCurRfb/IlimGainK = %v/%v, want 10000/40", cfg.SetCurRfb, cfg.IlimGainK)
	}
	if cfg.MaxTempLimit != 85 || cfg.MinTempLimit != -10 {
		t.Fatalf("MaxTempLimit/MinTempLimit = %v/%v, want 85/-10", cfg.MaxTempLimit, cfg.MinTempLimit)
	}
	if cfg.PgoodMonitorTimeoutMs != 50 {
		t.Fatalf("PgoodMonitorTimeoutMs = %d, want 50", cfg.PgoodMonitorTimeoutMs)
	}
}

func TestDecodeBoardConfigMalformed(t *testing.T) {
	cfg := decodeBoardConfig([]byte(`not json`))
	if cfg.BoardRevGE2 || cfg.VLowRa != 0 {
		t.Fatalf("malformed blob should decode to the zero BoardConfig, got %+v", cfg)
	}
}
