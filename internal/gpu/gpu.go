package gpu

// Provider abstracts GPU discovery so provisioning can validate device ids
// and the report can carry hardware specs without requiring NVML in tests.
type Provider interface {
	// Init initializes the provider (NVML or mock)
	Init() error
	// Shutdown cleanly shuts down the provider
	Shutdown() error
	// DeviceCount returns the number of GPUs
	DeviceCount() (int, error)
	// Specs returns static specifications for all GPUs
	Specs() ([]DeviceSpec, error)
	// Metrics returns current utilization for all GPUs
	Metrics() ([]DeviceMetrics, error)
}

// DeviceSpec describes one GPU slot as discovered at provision time.
type DeviceSpec struct {
	Index       int    `json:"index"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	MemoryTotal uint64 `json:"memory_total_mb"`
	DriverVer   string `json:"driver_version"`
}

// DeviceMetrics is a point-in-time utilization sample.
type DeviceMetrics struct {
	Index       int    `json:"index"`
	UUID        string `json:"uuid"`
	MemoryUsed  uint64 `json:"memory_used_mb"`
	GPUUtil     uint32 `json:"gpu_util_percent"`
	MemoryUtil  uint32 `json:"memory_util_percent"`
	Temperature uint32 `json:"temperature_c"`
}
