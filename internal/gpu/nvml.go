//go:build !nonvml
// +build !nonvml

package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) Shutdown() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

func (p *NVMLProvider) Specs() ([]DeviceSpec, error) {
	count, err := p.DeviceCount()
	if err != nil {
		return nil, err
	}

	specs := make([]DeviceSpec, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue // Skip failed device
		}

		uuid, _ := device.GetUUID()
		name, _ := device.GetName()
		memInfo, _ := device.GetMemoryInfo()
		driver, _ := nvml.SystemGetDriverVersion()

		specs = append(specs, DeviceSpec{
			Index:       i,
			UUID:        uuid,
			Name:        name,
			MemoryTotal: memInfo.Total / (1024 * 1024),
			DriverVer:   driver,
		})
	}
	return specs, nil
}

func (p *NVMLProvider) Metrics() ([]DeviceMetrics, error) {
	count, err := p.DeviceCount()
	if err != nil {
		return nil, err
	}

	metrics := make([]DeviceMetrics, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}

		uuid, _ := device.GetUUID()
		memInfo, _ := device.GetMemoryInfo()
		util, _ := device.GetUtilizationRates()
		temp, _ := device.GetTemperature(nvml.TEMPERATURE_GPU)

		metrics = append(metrics, DeviceMetrics{
			Index:       i,
			UUID:        uuid,
			MemoryUsed:  memInfo.Used / (1024 * 1024),
			GPUUtil:     util.Gpu,
			MemoryUtil:  util.Memory,
			Temperature: temp,
		})
	}
	return metrics, nil
}

// Compile-time interface check
var _ Provider = (*NVMLProvider)(nil)
