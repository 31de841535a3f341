package runtime

// SSHConfig holds the remote-execution credentials for one device slot.
type SSHConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyFile    string `yaml:"key_file"`
	PythonPath string `yaml:"python_path"`
	NodeName   string `yaml:"node_name"`
}

// GPUConfig is the static description of one device slot. Immutable after
// construction; consumed once by Provision to build an endpoint. A URL and
// SSH credentials together are contradictory — the URL wins and the remote
// boot is skipped.
type GPUConfig struct {
	DeviceID int        `yaml:"device_id"`
	URL      string     `yaml:"url,omitempty"`
	SSH      *SSHConfig `yaml:"ssh,omitempty"`
}
