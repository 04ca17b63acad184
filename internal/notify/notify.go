// Package notify implements the Event Notifier hooks (spec.md §4 item
// 8): outbound notifications to downstream directory/remote-cluster
// syncers, fired after each completed mutation. Grounded on the
// teacher's api.middleware.Logger pattern of wrapping a request with
// structured after-the-fact logging, generalized here to a pluggable
// fan-out notifier instead of an HTTP middleware.
package notify

import (
	"github.com/rs/zerolog"

	"distributed-objectstore/internal/objectmodel"
)

// Event is one completed mutation, handed to every registered sink.
type Event struct {
	Method objectmodel.Method
	Meta   objectmodel.Metadata
	ReqID  uint64
}

// Sink receives completed-mutation events. Implementations must not
// block the caller for long; the Notifier does not impose a timeout of
// its own.
type Sink interface {
	Notify(Event)
}

// Notifier fans a completed mutation out to every registered Sink. It is
// one of the process-wide services injected into the handler layer as
// an opaque handle.
type Notifier struct {
	sinks []Sink
	log   zerolog.Logger
}

// New builds a Notifier with the given sinks.
func New(log zerolog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, log: log}
}

// Publish hands ev to every sink, isolating panics so one misbehaving
// downstream syncer cannot break the mutation path that already
// completed successfully.
func (n *Notifier) Publish(ev Event) {
	for _, s := range n.sinks {
		func(sink Sink) {
			defer func() {
				if r := recover(); r != nil {
					n.log.Warn().Interface("panic", r).Msg("notifier sink panicked")
				}
			}()
			sink.Notify(ev)
		}(s)
	}
}

// LogSink is a reference Sink that logs every event at debug level, used
// when no downstream syncer is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Notify(ev Event) {
	s.Log.Debug().
		Str("method", ev.Method.String()).
		Uint64("req_id", ev.ReqID).
		Uint32("address_id", ev.Meta.AddressID).
		Bool("del", ev.Meta.Del).
		Msg("mutation notified")
}
