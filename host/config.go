package host

import "time"

// Config tunes an [Engine]. Zero fields take the package defaults.
type Config struct {
	QueueTimeout time.Duration // bound on enqueueing and on awaiting a response
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	DumpTimeout  time.Duration

	PollInterval time.Duration // interrupt poll period
	ProbeTimeout time.Duration // how long a poll waits for an interrupt ack byte

	ResetHold   time.Duration // reset line low time
	ResetSettle time.Duration // delay after releasing reset

	QueueDepth int

	// DisableInterrupts stops the engine from starting its interrupt
	// dispatcher. Interrupt frames are then only consumed by explicit
	// calls to [Dispatcher.Poll].
	DisableInterrupts bool

	// OnInterrupt, if set, is called with every non-zero interrupt bitmap
	// after the handlers have run.
	OnInterrupt func(bitmap uint32)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	setDuration(&c.QueueTimeout, QueueTimeout)
	setDuration(&c.PingTimeout, PingTimeout)
	setDuration(&c.WriteTimeout, WriteTimeout)
	setDuration(&c.ReadTimeout, ReadTimeout)
	setDuration(&c.DumpTimeout, DumpTimeout)
	setDuration(&c.PollInterval, InterruptPollInterval)
	setDuration(&c.ProbeTimeout, InterruptProbeTimeout)
	setDuration(&c.ResetHold, ResetHold)
	setDuration(&c.ResetSettle, ResetSettle)
	if c.QueueDepth <= 0 {
		c.QueueDepth = QueueDepth
	}
	return c
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
