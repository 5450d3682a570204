package config

import "testing"

func TestLoadStringSerialDefaults(t *testing.T) {
	cfg, err := LoadString(`[serial]
port = "/dev/ttyACM0"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Fatalf("got port %q", cfg.Serial.Port)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Fatalf("expected default baud rate 115200, got %d", cfg.Serial.BaudRate)
	}
}

func TestLoadStringSerialOverridesBaudRate(t *testing.T) {
	cfg, err := LoadString(`[serial]
port = "/dev/ttyACM0"
baud_rate = 57600
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serial.BaudRate != 57600 {
		t.Fatalf("got baud rate %d", cfg.Serial.BaudRate)
	}
}

func TestLoadStringDeviceDefaults(t *testing.T) {
	cfg, err := LoadString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := cfg.Device
	if d.HelloTimeoutMs != 3000 || d.AckTimeoutMs != 1500 || d.MaxRetries != 2 ||
		d.WatchdogPeriodMs != 200 || !d.AutoReconnect ||
		d.ReconnectInitialMs != 2000 || d.ReconnectMaxMs != 30000 || d.ReconnectMultiplier != 2 {
		t.Fatalf("unexpected device defaults: %+v", d)
	}
}

func TestLoadStringDeviceOverrides(t *testing.T) {
	cfg, err := LoadString(`[device]
hello_timeout_ms = 5000
auto_reconnect = false
reconnect_multiplier = 1.5
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.HelloTimeoutMs != 5000 {
		t.Fatalf("got %d", cfg.Device.HelloTimeoutMs)
	}
	if cfg.Device.AutoReconnect {
		t.Fatalf("expected auto_reconnect false")
	}
	if cfg.Device.ReconnectMultiplier != 1.5 {
		t.Fatalf("got %v", cfg.Device.ReconnectMultiplier)
	}
}

func TestLoadStringAprsDefaultsAndNodeCallsigns(t *testing.T) {
	cfg, err := LoadString(`[aprs]
igate_callsign = "N0CALL"
igate_ssid = 10
path = ["WIDE1-1", "WIDE2-1"]

[aprs.node_callsigns]
1 = "W1AW"
42 = "KC1ABC-9"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := cfg.Aprs
	if a.IgateCallsign != "N0CALL" || a.IgateSSID != 10 {
		t.Fatalf("unexpected identity: %+v", a)
	}
	if a.PositionIntervalS != 60 || a.TxMinIntervalS != 30 || a.DedupWindowS != 30 {
		t.Fatalf("unexpected default policy values: %+v", a)
	}
	if a.TelemetryTitle != "Trail Mate Center" {
		t.Fatalf("got telemetry title %q", a.TelemetryTitle)
	}
	if len(a.PathTokens) != 2 || a.PathTokens[0] != "WIDE1-1" {
		t.Fatalf("got path %v", a.PathTokens)
	}
	if a.NodeCallsigns[1] != "W1AW" || a.NodeCallsigns[42] != "KC1ABC-9" {
		t.Fatalf("got node callsigns %v", a.NodeCallsigns)
	}
}

func TestLoadStringAprsNodeCallsignsRejectsNonNumericKey(t *testing.T) {
	_, err := LoadString(`[aprs.node_callsigns]
north = "W1AW"
`)
	if err == nil {
		t.Fatalf("expected error for non-numeric node id key")
	}
}

func TestLoadStringAprsAnalogAndBitLabels(t *testing.T) {
	cfg, err := LoadString(`[aprs]
analog_labels = ["Batt", "Volt", "ChUtil", "AirUtil", "Uptime"]
bit_labels = ["a", "b", "c", "d", "e", "f", "g", "h"]
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Aprs.AnalogLabels[0] != "Batt" || cfg.Aprs.AnalogLabels[4] != "Uptime" {
		t.Fatalf("got analog labels %v", cfg.Aprs.AnalogLabels)
	}
	if cfg.Aprs.BitLabels[0] != "a" || cfg.Aprs.BitLabels[7] != "h" {
		t.Fatalf("got bit labels %v", cfg.Aprs.BitLabels)
	}
}

func TestLoadStringAprsISDefaults(t *testing.T) {
	cfg, err := LoadString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	is := cfg.AprsIS
	if is.Host != "rotate.aprs2.net" || is.Port != 14580 {
		t.Fatalf("unexpected defaults: %+v", is)
	}
	if is.SoftwareName != "tmcgwd" || is.SoftwareVersion != "1.0" {
		t.Fatalf("unexpected software identity defaults: %+v", is)
	}
	if is.Enabled {
		t.Fatalf("expected disabled by default")
	}
}

func TestLoadStringAprsISOverrides(t *testing.T) {
	cfg, err := LoadString(`[aprsis]
enabled = true
host = "noam.aprs2.net"
port = 10152
passcode = "12345"
filter = "r/35/-120/50"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	is := cfg.AprsIS
	if !is.Enabled || is.Host != "noam.aprs2.net" || is.Port != 10152 ||
		is.Passcode != "12345" || is.Filter != "r/35/-120/50" {
		t.Fatalf("unexpected overrides: %+v", is)
	}
}

func TestLoadStringMetricsDefaultListenAddr(t *testing.T) {
	cfg, err := LoadString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metrics.ListenAddr != ":9120" {
		t.Fatalf("got %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadStringMetricsOverride(t *testing.T) {
	cfg, err := LoadString(`[metrics]
listen_addr = ":9999"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metrics.ListenAddr != ":9999" {
		t.Fatalf("got %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadStringRejectsUnrecognisedParameter(t *testing.T) {
	_, err := LoadString(`[serial]
bogus_field = 1
`)
	if err == nil {
		t.Fatalf("expected error for unrecognised parameter")
	}
}

func TestLoadStringRejectsMalformedTableShape(t *testing.T) {
	_, err := LoadString(`serial = "not a table"`)
	if err == nil {
		t.Fatalf("expected error when [serial] is not a table")
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/to/tmcgwd.toml")
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
