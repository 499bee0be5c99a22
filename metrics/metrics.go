package metrics

import (
	"time"

	"github.com/vorpalengineering/x402-agent/types"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// EventObserver counts every phase transition as phase_<name>
func EventObserver(r Recorder) types.Observer {
	r = OrNoop(r)
	return func(e types.Event) {
		r.IncCounter("phase_"+string(e.Phase), map[string]string{"network": e.Network})
	}
}
