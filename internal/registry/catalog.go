package registry

import "fmt"

const (
	MetricCPUUsage      = "system_cpu_usage_percent"
	MetricRAMUsage      = "system_ram_usage_bytes"
	MetricRAMTotal      = "system_ram_total_bytes"
	MetricNetTransmit   = "system_network_transmit_bytes"
	MetricAttackType    = "iot_attack_type_code"
	MetricCO2           = "iot_sensor_co2_ppm"
	MetricLoginAttempts = "iot_security_login_attempts_total"

	LabelDeviceID = "device_id"
	LabelRoom     = "room"
	LabelStatus   = "status"

	StatusFailed = "failed"
)

// DeviceMetrics is the fixed set of metrics exported by the emitter.
var DeviceMetrics = []Desc{
	{Name: MetricCPUUsage, Help: "CPU usage of the device in percent", Kind: KindGauge, Labels: []string{LabelDeviceID}},
	{Name: MetricRAMUsage, Help: "Used RAM in bytes", Kind: KindGauge, Labels: []string{LabelDeviceID}},
	{Name: MetricRAMTotal, Help: "Total system RAM in bytes", Kind: KindGauge, Labels: []string{LabelDeviceID}},
	{Name: MetricNetTransmit, Help: "Network bytes sent", Kind: KindGauge, Labels: []string{LabelDeviceID}},
	{Name: MetricAttackType, Help: "Simulated attack type: 0 benign, 1 botnet flood, 2 brute force", Kind: KindGauge, Labels: []string{LabelDeviceID}},
	{Name: MetricCO2, Help: "Simulated CO2 level in ppm", Kind: KindGauge, Labels: []string{LabelDeviceID, LabelRoom}},
	{Name: MetricLoginAttempts, Help: "Total login attempts", Kind: KindCounter, Labels: []string{LabelDeviceID, LabelStatus}},
}

// DeclareDeviceMetrics registers DeviceMetrics and seeds the failed-login
// counter for deviceID at zero.
func DeclareDeviceMetrics(r *Registry, deviceID string) error {
	for _, d := range DeviceMetrics {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	if err := r.Touch(MetricLoginAttempts, Labels{LabelDeviceID: deviceID, LabelStatus: StatusFailed}); err != nil {
		return fmt.Errorf("seeding login counter: %w", err)
	}
	return nil
}
