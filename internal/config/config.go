// Package config parses the daemon's TOML settings file, grounded on
// config.Config's table-walking, type-coercing style
// (config/config.go), generalized from L2TP tunnel/session tables to
// [serial], [device], [aprs], [aprsis] and [metrics] tables.
package config

import (
	"fmt"

	"github.com/pelletier/go-toml"
)

// SerialConfig describes the CDC serial connection to the radio node.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// DeviceConfig mirrors session.Config's timing knobs in TOML form.
type DeviceConfig struct {
	HelloTimeoutMs      int
	AckTimeoutMs        int
	MaxRetries          int
	WatchdogPeriodMs    int
	AutoReconnect       bool
	ReconnectInitialMs  int
	ReconnectMaxMs      int
	ReconnectMultiplier float64
}

// AprsConfig carries the APRS gateway service's identity and policy.
type AprsConfig struct {
	IgateCallsign     string
	IgateSSID         int
	PathTokens        []string
	PositionIntervalS int
	TxMinIntervalS    int
	DedupWindowS      int
	TelemetryTitle    string
	AnalogLabels      [5]string
	AnalogUnits       [5]string
	BitLabels         [8]string
	NodeCallsigns     map[uint32]string
}

// AprsISConfig carries the APRS-IS uplink's connection settings.
type AprsISConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Passcode        string
	Filter          string
	SoftwareName    string
	SoftwareVersion string
}

// MetricsConfig carries the Prometheus exporter's listen address.
type MetricsConfig struct {
	ListenAddr string
}

// Config is the daemon's full parsed settings tree.
type Config struct {
	Map map[string]interface{}

	Serial  SerialConfig
	Device  DeviceConfig
	Aprs    AprsConfig
	AprsIS  AprsISConfig
	Metrics MetricsConfig
}

func toBool(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("supplied value could not be parsed as a bool")
}

func toInt(v interface{}) (int, error) {
	if b, ok := v.(int64); ok {
		return int(b), nil
	}
	if b, ok := v.(uint64); ok {
		return int(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toFloat(v interface{}) (float64, error) {
	if f, ok := v.(float64); ok {
		return f, nil
	}
	if i, err := toInt(v); err == nil {
		return float64(i), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("supplied value could not be parsed as a string")
}

func toStringSlice(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array value")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := toString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toStringArray5(v interface{}) ([5]string, error) {
	var out [5]string
	s, err := toStringSlice(v)
	if err != nil {
		return out, err
	}
	for i := 0; i < len(s) && i < 5; i++ {
		out[i] = s[i]
	}
	return out, nil
}

func toStringArray8(v interface{}) ([8]string, error) {
	var out [8]string
	s, err := toStringSlice(v)
	if err != nil {
		return out, err
	}
	for i := 0; i < len(s) && i < 8; i++ {
		out[i] = s[i]
	}
	return out, nil
}

func loadSerial(m map[string]interface{}) (SerialConfig, error) {
	sc := SerialConfig{BaudRate: 115200}
	for k, v := range m {
		var err error
		switch k {
		case "port":
			sc.Port, err = toString(v)
		case "baud_rate":
			sc.BaudRate, err = toInt(v)
		default:
			return sc, fmt.Errorf("unrecognised parameter %q", k)
		}
		if err != nil {
			return sc, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return sc, nil
}

func loadDevice(m map[string]interface{}) (DeviceConfig, error) {
	dc := DeviceConfig{
		HelloTimeoutMs: 3000, AckTimeoutMs: 1500, MaxRetries: 2,
		WatchdogPeriodMs: 200, AutoReconnect: true,
		ReconnectInitialMs: 2000, ReconnectMaxMs: 30000, ReconnectMultiplier: 2,
	}
	for k, v := range m {
		var err error
		switch k {
		case "hello_timeout_ms":
			dc.HelloTimeoutMs, err = toInt(v)
		case "ack_timeout_ms":
			dc.AckTimeoutMs, err = toInt(v)
		case "max_retries":
			dc.MaxRetries, err = toInt(v)
		case "watchdog_period_ms":
			dc.WatchdogPeriodMs, err = toInt(v)
		case "auto_reconnect":
			dc.AutoReconnect, err = toBool(v)
		case "reconnect_initial_ms":
			dc.ReconnectInitialMs, err = toInt(v)
		case "reconnect_max_ms":
			dc.ReconnectMaxMs, err = toInt(v)
		case "reconnect_multiplier":
			dc.ReconnectMultiplier, err = toFloat(v)
		default:
			return dc, fmt.Errorf("unrecognised parameter %q", k)
		}
		if err != nil {
			return dc, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return dc, nil
}

func loadNodeCallsigns(v interface{}) (map[uint32]string, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("node_callsigns must be a table of node id to callsign")
	}
	out := make(map[uint32]string, len(m))
	for k, got := range m {
		var id uint32
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("node_callsigns key %q is not a numeric node id", k)
		}
		cs, err := toString(got)
		if err != nil {
			return nil, fmt.Errorf("node_callsigns[%v]: %v", k, err)
		}
		out[id] = cs
	}
	return out, nil
}

func loadAprs(m map[string]interface{}) (AprsConfig, error) {
	ac := AprsConfig{
		PositionIntervalS: 60, TxMinIntervalS: 30, DedupWindowS: 30,
		TelemetryTitle: "Trail Mate Center",
	}
	for k, v := range m {
		var err error
		switch k {
		case "igate_callsign":
			ac.IgateCallsign, err = toString(v)
		case "igate_ssid":
			ac.IgateSSID, err = toInt(v)
		case "path":
			ac.PathTokens, err = toStringSlice(v)
		case "position_interval_s":
			ac.PositionIntervalS, err = toInt(v)
		case "tx_min_interval_s":
			ac.TxMinIntervalS, err = toInt(v)
		case "dedupe_window_s":
			ac.DedupWindowS, err = toInt(v)
		case "telemetry_title":
			ac.TelemetryTitle, err = toString(v)
		case "analog_labels":
			ac.AnalogLabels, err = toStringArray5(v)
		case "analog_units":
			ac.AnalogUnits, err = toStringArray5(v)
		case "bit_labels":
			ac.BitLabels, err = toStringArray8(v)
		case "node_callsigns":
			ac.NodeCallsigns, err = loadNodeCallsigns(v)
		default:
			return ac, fmt.Errorf("unrecognised parameter %q", k)
		}
		if err != nil {
			return ac, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return ac, nil
}

func loadAprsIS(m map[string]interface{}) (AprsISConfig, error) {
	ic := AprsISConfig{
		Host: "rotate.aprs2.net", Port: 14580,
		SoftwareName: "tmcgwd", SoftwareVersion: "1.0",
	}
	for k, v := range m {
		var err error
		switch k {
		case "enabled":
			ic.Enabled, err = toBool(v)
		case "host":
			ic.Host, err = toString(v)
		case "port":
			ic.Port, err = toInt(v)
		case "passcode":
			ic.Passcode, err = toString(v)
		case "filter":
			ic.Filter, err = toString(v)
		case "software_name":
			ic.SoftwareName, err = toString(v)
		case "software_version":
			ic.SoftwareVersion, err = toString(v)
		default:
			return ic, fmt.Errorf("unrecognised parameter %q", k)
		}
		if err != nil {
			return ic, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return ic, nil
}

func loadMetrics(m map[string]interface{}) (MetricsConfig, error) {
	mc := MetricsConfig{ListenAddr: ":9120"}
	for k, v := range m {
		var err error
		switch k {
		case "listen_addr":
			mc.ListenAddr, err = toString(v)
		default:
			return mc, fmt.Errorf("unrecognised parameter %q", k)
		}
		if err != nil {
			return mc, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return mc, nil
}

func subTable(m map[string]interface{}, key string) (map[string]interface{}, error) {
	got, ok := m[key]
	if !ok {
		return map[string]interface{}{}, nil
	}
	sub, ok := got.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("'%s' must be a table, e.g. '[%s]'", key, key)
	}
	return sub, nil
}

func newConfig(tree *toml.Tree) (*Config, error) {
	m := tree.ToMap()
	cfg := &Config{Map: m}

	var err error
	sub, err := subTable(m, "serial")
	if err != nil {
		return nil, err
	}
	if cfg.Serial, err = loadSerial(sub); err != nil {
		return nil, fmt.Errorf("[serial]: %v", err)
	}

	if sub, err = subTable(m, "device"); err != nil {
		return nil, err
	}
	if cfg.Device, err = loadDevice(sub); err != nil {
		return nil, fmt.Errorf("[device]: %v", err)
	}

	if sub, err = subTable(m, "aprs"); err != nil {
		return nil, err
	}
	if cfg.Aprs, err = loadAprs(sub); err != nil {
		return nil, fmt.Errorf("[aprs]: %v", err)
	}

	if sub, err = subTable(m, "aprsis"); err != nil {
		return nil, err
	}
	if cfg.AprsIS, err = loadAprsIS(sub); err != nil {
		return nil, fmt.Errorf("[aprsis]: %v", err)
	}

	if sub, err = subTable(m, "metrics"); err != nil {
		return nil, err
	}
	if cfg.Metrics, err = loadMetrics(sub); err != nil {
		return nil, fmt.Errorf("[metrics]: %v", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from the specified file.
func LoadFile(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	return newConfig(tree)
}

// LoadString loads configuration from the specified string.
func LoadString(content string) (*Config, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load config string: %v", err)
	}
	return newConfig(tree)
}
