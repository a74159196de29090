package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Dispatcher routes units of work from the job queue to their use case.
type Dispatcher struct {
	Queue     *Queue
	Pipeline  *Pipeline
	Publisher *Publisher
	Webhooks  *WebhookFilter
}

// Handle executes one unit to completion.
func (d *Dispatcher) Handle(ctx context.Context, unit ports.Unit) error {
	switch unit.Kind {
	case ports.UnitAdmit:
		_, _, err := d.Queue.Admit(ctx)
		return err
	case ports.UnitProcess:
		_, err := d.Pipeline.ProcessBundle(ctx, unit.BundleID)
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			// recorded on the bundle, nothing left for the worker to report
			return nil
		}
		return err
	case ports.UnitPublish:
		return d.Publisher.Publish(ctx, unit.BundleID)
	case ports.UnitWebhook:
		_, err := d.Webhooks.Process(ctx, unit.WebhookID)
		return err
	default:
		return fmt.Errorf("unknown unit kind %q", unit.Kind)
	}
}
