package gpu

// MockProvider provides fake GPU data for testing
type MockProvider struct {
	DeviceSpecs   []DeviceSpec
	DeviceSamples []DeviceMetrics
	InitErr       error

	// Track method calls
	MetricsCalls int
}

func NewMockProvider(specs []DeviceSpec, samples []DeviceMetrics) *MockProvider {
	return &MockProvider{DeviceSpecs: specs, DeviceSamples: samples}
}

func (p *MockProvider) Init() error {
	return p.InitErr
}

func (p *MockProvider) Shutdown() error {
	return nil
}

func (p *MockProvider) DeviceCount() (int, error) {
	return len(p.DeviceSpecs), nil
}

func (p *MockProvider) Specs() ([]DeviceSpec, error) {
	return p.DeviceSpecs, nil
}

func (p *MockProvider) Metrics() ([]DeviceMetrics, error) {
	p.MetricsCalls++
	return p.DeviceSamples, nil
}

// Compile-time interface check
var _ Provider = (*MockProvider)(nil)
