package dsp

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the connection-level counters, one label set per device so
// any number of Connections can share one Registerer. They work
// unregistered, so a nil Registerer simply keeps them process-local.
type metrics struct {
	commands      prometheus.Counter
	retries       prometheus.Counter
	rejections    prometheus.Counter
	timeouts      prometheus.Counter
	connects      prometheus.Counter
	notifications prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, dsp string) *metrics {
	counter := func(name, help string) prometheus.Counter {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symnet",
			Subsystem: "connection",
			Name:      name,
			Help:      help,
		}, []string{"dsp"})
		if reg != nil {
			if err := reg.Register(vec); err != nil {
				// Another Connection on the same Registerer already
				// owns this family; record into its vec.
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
				vec = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		return vec.WithLabelValues(dsp)
	}
	return &metrics{
		commands:      counter("commands_total", "Commands submitted to the device, retries included"),
		retries:       counter("retries_total", "Command attempts issued after a failed or timed-out attempt"),
		rejections:    counter("rejections_total", "NAK replies received from the device"),
		timeouts:      counter("timeouts_total", "Command attempts that produced no reply within the bound"),
		connects:      counter("connects_total", "Transport connections established, reconnects included"),
		notifications: counter("notifications_total", "Unsolicited parameter updates received"),
	}
}
