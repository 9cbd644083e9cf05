package fulfillment

import (
	"drover.io/drover/internal/registry"
)

// BuildRegistry assembles and freezes the handler registry for the order
// domain. Called once at startup; any configuration error fails the boot.
func BuildRegistry(ports Ports) (*registry.Registry, error) {
	r := registry.New()

	steps := []func() error{
		func() error {
			return r.Register(EventCustomerRequested, mutateCustomerRequested)
		},
		func() error {
			return r.Register(EventPaymentSucceeded, mutatePaymentSucceeded,
				registry.Subscription{
					Action:     registry.Action{Name: ActionSendPaymentSuccessEmail, Run: sendPaymentSuccessEmail(ports.Mailer)},
					Conditions: []registry.Condition{positiveAmount},
				})
		},
		func() error {
			return r.Register(EventPaymentFailed, mutatePaymentFailed)
		},
		func() error {
			return r.Register(EventOrderPackaged, mutateOrderPackaged,
				registry.Subscription{
					Action: registry.Action{Name: ActionNotifyCourier, Run: notifyCourier(ports.Courier)},
				})
		},
		func() error {
			return r.Register(EventCourierCollected, mutateCourierCollected)
		},
		func() error {
			return r.Register(EventPackageDelivered, mutatePackageDelivered,
				registry.Subscription{
					Action: registry.Action{Name: ActionArchiveInvoice, Run: archiveInvoice(ports.Archiver)},
				})
		},
		func() error {
			return r.Register(EventDeliveryDateChanged, mutateDeliveryDateChanged)
		},
		func() error {
			return r.Register(EventSuccessEmailSent, mutateSuccessEmailSent)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	r.Freeze()
	return r, nil
}
