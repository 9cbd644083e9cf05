package fulfillment

import (
	"encoding/json"
	"fmt"
	"time"

	"drover.io/drover/internal/command"
	"drover.io/drover/internal/domain"
)

// RegisterCommands installs the order command set on the mux. Duplicate
// names fail at startup.
func RegisterCommands(mux *command.Mux) error {
	defs := []command.Definition{
		{
			Name:           "request_order",
			EventType:      EventCustomerRequested,
			CreatesProcess: true,
			Kind:           ProcessKind,
			Validate: func(params map[string]any) error {
				if s, _ := params["customer_name"].(string); s == "" {
					return fmt.Errorf("customer_name is required")
				}
				if s, _ := params["customer_email"].(string); s == "" {
					return fmt.Errorf("customer_email is required")
				}
				return nil
			},
			Payload: payloadFromParams(func(params map[string]any) any {
				return CustomerRequestedPayload{
					CustomerName:    str(params, "customer_name"),
					CustomerEmail:   str(params, "customer_email"),
					DeliveryAddress: str(params, "delivery_address"),
				}
			}),
		},
		{
			Name:      "record_payment",
			EventType: EventPaymentSucceeded,
			Validate: func(params map[string]any) error {
				if _, ok := params["amount"].(float64); !ok {
					return fmt.Errorf("amount is required and must be a number")
				}
				return nil
			},
			Payload: payloadFromParams(func(params map[string]any) any {
				amount, _ := params["amount"].(float64)
				return PaymentSucceededPayload{Amount: amount, Method: str(params, "method")}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status != StatusPending && p.Status != StatusPaymentFailed {
					return fmt.Errorf("cannot record payment for order in status %q", p.Status)
				}
				return nil
			},
		},
		{
			Name:      "record_payment_failure",
			EventType: EventPaymentFailed,
			Payload: payloadFromParams(func(params map[string]any) any {
				amount, _ := params["amount"].(float64)
				return PaymentFailedPayload{Amount: amount, Reason: str(params, "reason")}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status != StatusPending && p.Status != StatusPaymentFailed {
					return fmt.Errorf("cannot record payment failure for order in status %q", p.Status)
				}
				return nil
			},
		},
		{
			Name:      "mark_packaged",
			EventType: EventOrderPackaged,
			Payload: payloadFromParams(func(params map[string]any) any {
				return OrderPackagedPayload{Warehouse: str(params, "warehouse")}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status != StatusPaid && p.Status != StatusConfirmed {
					return fmt.Errorf("cannot package order in status %q", p.Status)
				}
				return nil
			},
		},
		{
			Name:      "mark_collected",
			EventType: EventCourierCollected,
			Payload: payloadFromParams(func(params map[string]any) any {
				return CourierCollectedPayload{
					Courier:    str(params, "courier"),
					TrackingID: str(params, "tracking_id"),
				}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status != StatusPackaged {
					return fmt.Errorf("cannot collect order in status %q", p.Status)
				}
				return nil
			},
		},
		{
			Name:      "mark_delivered",
			EventType: EventPackageDelivered,
			Payload: payloadFromParams(func(params map[string]any) any {
				return PackageDeliveredPayload{ReceivedBy: str(params, "received_by")}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status != StatusShipped {
					return fmt.Errorf("cannot deliver order in status %q", p.Status)
				}
				return nil
			},
		},
		{
			Name:      "change_delivery_date",
			EventType: EventDeliveryDateChanged,
			Validate: func(params map[string]any) error {
				date := str(params, "new_date")
				if date == "" {
					return fmt.Errorf("new_date is required")
				}
				if _, err := time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("new_date must be YYYY-MM-DD: %v", err)
				}
				return nil
			},
			Payload: payloadFromParams(func(params map[string]any) any {
				return DeliveryDateChangedPayload{NewDate: str(params, "new_date")}
			}),
			Precondition: func(p *domain.Process) error {
				if p.Status == StatusDelivered {
					return fmt.Errorf("order is already delivered")
				}
				return nil
			},
		},
	}

	for _, def := range defs {
		if err := mux.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func payloadFromParams(build func(params map[string]any) any) func(map[string]any) ([]byte, error) {
	return func(params map[string]any) ([]byte, error) {
		return json.Marshal(build(params))
	}
}

func str(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
