package errchan

import (
	"context"

	"github.com/cyberinferno/pingd/failure"
)

// Aggregator drains a Receiver into a single outcome. Only one Aggregator may
// run per Receiver.
type Aggregator struct {
	rx *Receiver

	// Observe, when set, is called with each record after it is collected and
	// before the next receive.
	Observe func(rec *failure.Error)
}

// NewAggregator returns an Aggregator reading from rx.
func NewAggregator(rx *Receiver) *Aggregator {
	return &Aggregator{rx: rx}
}

// Run receives records until every Sender has been released, keeping them in
// arrival order.
//
// Returns:
//   - nil if the channel closed without any record
//   - a failure.KindMultiple *failure.Error holding every record otherwise
//   - ctx.Err() if the context ends before the channel closes
func (a *Aggregator) Run(ctx context.Context) error {
	var records []*failure.Error
	for {
		rec, ok, err := a.rx.Recv(ctx)
		if err != nil {
			return err
		}

		if !ok {
			break
		}

		records = append(records, rec)
		if a.Observe != nil {
			a.Observe(rec)
		}
	}

	if len(records) == 0 {
		return nil
	}

	return failure.Multiple(records...)
}
