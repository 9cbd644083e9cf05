// Package fulfillment is the order-fulfillment process domain: the event
// vocabulary, the handlers that derive order state from it, the side
// effects those events trigger, and the commands that append them.
package fulfillment

import (
	"encoding/json"

	"drover.io/drover/internal/domain"
)

// Event types an order process understands. The set is closed; anything
// else in a stored sequence is preserved but ignored by replay.
const (
	EventCustomerRequested   domain.EventType = "CUSTOMER_REQUESTED"
	EventPaymentSucceeded    domain.EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed       domain.EventType = "PAYMENT_FAILED"
	EventOrderPackaged       domain.EventType = "ORDER_PACKAGED"
	EventCourierCollected    domain.EventType = "COURIER_COLLECTED"
	EventPackageDelivered    domain.EventType = "PACKAGE_DELIVERED"
	EventDeliveryDateChanged domain.EventType = "DELIVERY_DATE_CHANGED"
	EventSuccessEmailSent    domain.EventType = "ORDER_SUCCESS_EMAIL_SENT"
)

// ProcessKind tags order processes in the repository.
const ProcessKind = "order"

// Payload structs, one per event type. Fields absent in older stored
// payloads decode to their zero value; mutators treat zero as "unknown"
// rather than failing the replay.

type CustomerRequestedPayload struct {
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	DeliveryAddress string `json:"delivery_address"`
}

type PaymentSucceededPayload struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method,omitempty"`
}

type PaymentFailedPayload struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
}

type OrderPackagedPayload struct {
	Warehouse string `json:"warehouse,omitempty"`
}

type CourierCollectedPayload struct {
	Courier    string `json:"courier,omitempty"`
	TrackingID string `json:"tracking_id,omitempty"`
}

type PackageDeliveredPayload struct {
	ReceivedBy string `json:"received_by,omitempty"`
}

type DeliveryDateChangedPayload struct {
	NewDate string `json:"new_date"`
}

func decode(raw []byte, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
