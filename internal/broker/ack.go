package broker

import (
	"context"
	"sync"
)

// Ack resolves once the broker has accepted or rejected a published message.
type Ack struct {
	once   sync.Once
	done   chan struct{}
	report DeliveryReport
}

func newAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

func (a *Ack) resolve(report DeliveryReport) {
	a.once.Do(func() {
		a.report = report
		close(a.done)
	})
}

func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Report is valid only after Done is closed.
func (a *Ack) Report() DeliveryReport {
	<-a.done
	return a.report
}

// Wait blocks until the delivery completes or ctx ends. The returned error is the delivery error.
func (a *Ack) Wait(ctx context.Context) (DeliveryReport, error) {
	select {
	case <-a.done:
		return a.report, a.report.Err
	case <-ctx.Done():
		return DeliveryReport{}, ctx.Err()
	}
}

// NewAck returns an unresolved Ack and the function that completes it.
// Producer implementations outside this package use it to hand out acks.
func NewAck() (*Ack, func(DeliveryReport)) {
	a := newAck()
	return a, a.resolve
}
