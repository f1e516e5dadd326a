package txqueue

import (
	"github.com/marcodd23/go-txqueue/pkg/dbx"
)

// eventRelay forwards the events of a driver-side source to the wrapper's own
// hub, preserving name, payload and order. intercept, when set, sees every
// event after the subscribers have.
type eventRelay struct {
	hub         dbx.EventHub
	unsubscribe func()
}

func newEventRelay(source dbx.EventSource, intercept func(ev dbx.Event)) *eventRelay {
	r := &eventRelay{}

	if source == nil {
		r.unsubscribe = func() {}
		return r
	}

	r.unsubscribe = source.Subscribe(func(ev dbx.Event) {
		r.hub.Emit(ev)

		if intercept != nil {
			intercept(ev)
		}
	})

	return r
}

func (r *eventRelay) close() {
	r.unsubscribe()
}
