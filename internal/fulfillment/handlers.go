package fulfillment

import (
	"drover.io/drover/internal/domain"
)

// Replay-context flags raised by the mutators below and consumed by status
// derivation and conditions.
const (
	flagOrdered       = "ordered"
	flagPaid          = "paid"
	flagPaymentFailed = "payment_failed"
	flagPackaged      = "packaged"
	flagCollected     = "collected"
	flagDelivered     = "delivered"
	flagConfirmed     = "confirmed"
)

func mutateCustomerRequested(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body CustomerRequestedPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	p.Attributes["customer_name"] = body.CustomerName
	p.Attributes["customer_email"] = body.CustomerEmail
	p.Attributes["delivery_address"] = body.DeliveryAddress
	rc.SetFlag(flagOrdered)
	return nil
}

func mutatePaymentSucceeded(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body PaymentSucceededPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	p.Attributes["amount_paid"] = body.Amount
	if body.Method != "" {
		p.Attributes["payment_method"] = body.Method
	}
	rc.SetFlag(flagPaid)
	rc.ClearFlag(flagPaymentFailed)
	return nil
}

func mutatePaymentFailed(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body PaymentFailedPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	p.Attributes["payment_failure_reason"] = body.Reason
	// A failure after a successful payment does not un-pay the order.
	if !rc.Flag(flagPaid) {
		rc.SetFlag(flagPaymentFailed)
	}
	return nil
}

func mutateOrderPackaged(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body OrderPackagedPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	if body.Warehouse != "" {
		p.Attributes["warehouse"] = body.Warehouse
	}
	rc.SetFlag(flagPackaged)
	return nil
}

func mutateCourierCollected(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body CourierCollectedPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	if body.Courier != "" {
		p.Attributes["courier"] = body.Courier
	}
	if body.TrackingID != "" {
		p.Attributes["tracking_id"] = body.TrackingID
	}
	rc.SetFlag(flagCollected)
	return nil
}

func mutatePackageDelivered(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body PackageDeliveredPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	if body.ReceivedBy != "" {
		p.Attributes["received_by"] = body.ReceivedBy
	}
	rc.SetFlag(flagDelivered)
	return nil
}

func mutateDeliveryDateChanged(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	var body DeliveryDateChangedPayload
	if err := decode(e.Payload, &body); err != nil {
		return err
	}
	// Last change in append order wins.
	p.Attributes["delivery_date"] = body.NewDate
	return nil
}

func mutateSuccessEmailSent(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
	// Confirmation only counts once the payment that prompted it has been
	// replayed; the same event earlier in the sequence means nothing.
	if rc.Flag(flagPaid) {
		rc.SetFlag(flagConfirmed)
	}
	return nil
}

// positiveAmount gates payment side effects on a real, positive amount.
func positiveAmount(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) (bool, error) {
	var body PaymentSucceededPayload
	if err := decode(e.Payload, &body); err != nil {
		return false, err
	}
	return body.Amount > 0, nil
}

// DeriveStatus maps the final replay context to the order status. It is
// total: any flag combination, including none, yields a status.
func DeriveStatus(p *domain.Process, rc *domain.ReplayContext) domain.Status {
	switch {
	case rc.Flag(flagDelivered):
		return StatusDelivered
	case rc.Flag(flagCollected):
		return StatusShipped
	case rc.Flag(flagPackaged):
		return StatusPackaged
	case rc.Flag(flagConfirmed):
		return StatusConfirmed
	case rc.Flag(flagPaid):
		return StatusPaid
	case rc.Flag(flagPaymentFailed):
		return StatusPaymentFailed
	case rc.Flag(flagOrdered):
		return StatusPending
	default:
		return StatusNew
	}
}

// Order statuses, in lifecycle order.
const (
	StatusNew           domain.Status = "new"
	StatusPending       domain.Status = "pending"
	StatusPaymentFailed domain.Status = "payment_failed"
	StatusPaid          domain.Status = "paid"
	StatusConfirmed     domain.Status = "confirmed"
	StatusPackaged      domain.Status = "packaged"
	StatusShipped       domain.Status = "shipped"
	StatusDelivered     domain.Status = "delivered"
)
