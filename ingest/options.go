package ingest

import "time"

// Options tunes the ingestion pipeline. The transfer unit itself is fixed at
// format.ManifestMaxSize by the image format contract and is not an option.
type Options struct {
	// PollInterval is the voluntary yield between DMA status polls.
	PollInterval time.Duration

	// PollTimeout bounds the wait for one transfer unit. The hardware
	// protocol has no bound of its own; exhausting this budget reports the
	// device as stalled instead of hanging the caller.
	PollTimeout time.Duration

	// BoostKHz is the temporary CPU frequency budget increase requested for
	// the duration of a transfer, released on every exit path.
	BoostKHz int

	// Core is the core id the boost is accounted to.
	Core int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval: 100 * time.Microsecond,
		PollTimeout:  2 * time.Second,
		BoostKHz:     400_000,
		Core:         0,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = d.PollTimeout
	}
	if o.BoostKHz <= 0 {
		o.BoostKHz = d.BoostKHz
	}
	return o
}
