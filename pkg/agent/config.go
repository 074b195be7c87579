package agent

import "time"

// Config is the static configuration of an agent. TuningConfig points at a
// YAML file whose changes are applied without restart.
type Config struct {
	DataDir      string
	TuningConfig string

	QueueCapacity int
	GracePeriod   time.Duration
	PollInterval  time.Duration
	Deadzone      float64
}

func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1024,
		GracePeriod:   30 * time.Second,
		PollInterval:  time.Second,
		Deadzone:      0.05,
	}
}
