package fulfillment

import (
	"context"

	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/registry"
)

// Action names as recorded on events. Renaming one orphans stored outcomes,
// which replay reports as corruption, so treat these as part of the schema.
const (
	ActionSendPaymentSuccessEmail = "send_payment_success_email"
	ActionNotifyCourier           = "notify_courier"
	ActionArchiveInvoice          = "archive_invoice"
)

// Outbound ports. Production wires real integrations; the Log* fakes below
// serve development and tests.

type Mailer interface {
	SendPaymentSuccess(ctx context.Context, orderID, email string, amount float64) error
}

type CourierNotifier interface {
	RequestPickup(ctx context.Context, orderID, address string) error
}

type InvoiceArchiver interface {
	Archive(ctx context.Context, orderID string, amount float64) error
}

// Ports bundles the outbound integrations the order actions need.
type Ports struct {
	Mailer   Mailer
	Courier  CourierNotifier
	Archiver InvoiceArchiver
}

// LogPorts returns ports that only log, for development and tests.
func LogPorts() Ports {
	return Ports{Mailer: logMailer{}, Courier: logCourier{}, Archiver: logArchiver{}}
}

type logMailer struct{}

func (logMailer) SendPaymentSuccess(ctx context.Context, orderID, email string, amount float64) error {
	logger.Info("payment success email sent",
		zap.String("order_id", orderID),
		zap.String("email", email),
		zap.Float64("amount", amount),
	)
	return nil
}

type logCourier struct{}

func (logCourier) RequestPickup(ctx context.Context, orderID, address string) error {
	logger.Info("courier pickup requested",
		zap.String("order_id", orderID),
		zap.String("address", address),
	)
	return nil
}

type logArchiver struct{}

func (logArchiver) Archive(ctx context.Context, orderID string, amount float64) error {
	logger.Info("invoice archived",
		zap.String("order_id", orderID),
		zap.Float64("amount", amount),
	)
	return nil
}

func sendPaymentSuccessEmail(m Mailer) registry.ActionFunc {
	return func(ctx context.Context, p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
		var body PaymentSucceededPayload
		if err := decode(e.Payload, &body); err != nil {
			return err
		}
		email, _ := p.Attributes["customer_email"].(string)
		return m.SendPaymentSuccess(ctx, p.ID, email, body.Amount)
	}
}

func notifyCourier(c CourierNotifier) registry.ActionFunc {
	return func(ctx context.Context, p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
		address, _ := p.Attributes["delivery_address"].(string)
		return c.RequestPickup(ctx, p.ID, address)
	}
}

func archiveInvoice(a InvoiceArchiver) registry.ActionFunc {
	return func(ctx context.Context, p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
		amount, _ := p.Attributes["amount_paid"].(float64)
		return a.Archive(ctx, p.ID, amount)
	}
}
