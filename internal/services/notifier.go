package services

import (
	"context"
	"fmt"

	"payout-core/internal/config"
	"payout-core/internal/models"
	"payout-core/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// Notifier sends creator-facing emails through Brevo: refund outcomes
// (sent regardless of the decision) and dispute alerts. Notification is
// best-effort; a mail failure never blocks a money decision.
type Notifier struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
}

// NewNotifier creates the notifier. Without an API key it stays
// disabled and every send is a logged no-op.
func NewNotifier() *Notifier {
	n := &Notifier{
		fromEmail: config.AppConfig.BrevoFromEmail,
		fromName:  config.AppConfig.BrevoFromName,
	}
	if config.AppConfig.BrevoAPIKey == "" {
		logging.Infof("Brevo API key not configured, notifications disabled")
		return n
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", config.AppConfig.BrevoAPIKey)
	n.client = brevo.NewAPIClient(cfg)
	return n
}

// NotifyRefundOutcome tells the platform what happened to a refund
// request, whatever the decision was.
func (n *Notifier) NotifyRefundOutcome(ctx context.Context, to string, refund *models.Refund) {
	subject := fmt.Sprintf("Refund %s - %s", refund.Status, refund.RefundID)
	body := fmt.Sprintf(
		"Refund request %s for transaction %s (%s %s) was %s.\nDecision: %s\nReason: %s\n",
		refund.RefundID, refund.TransactionID, refund.Amount.StringFixed(2), refund.Currency,
		refund.Status, refund.Decision, refund.DecisionReason)
	n.send(ctx, to, subject, body)
}

// NotifyDisputeAlert raises a deadline or stage alert for a dispute
func (n *Notifier) NotifyDisputeAlert(ctx context.Context, to string, dispute *models.Dispute, message string) {
	subject := fmt.Sprintf("Dispute alert - %s", dispute.DisputeID)
	body := fmt.Sprintf(
		"Dispute %s on transaction %s (stage %s, amount %s %s): %s\n",
		dispute.DisputeID, dispute.TransactionID, dispute.Stage,
		dispute.Amount.StringFixed(2), dispute.Currency, message)
	n.send(ctx, to, subject, body)
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) {
	if n.client == nil || to == "" {
		logging.Infof("Notification skipped - to: %q, subject: %s", to, subject)
		return
	}

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  n.fromName,
			Email: n.fromEmail,
		},
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     subject,
		TextContent: body,
	}

	if _, _, err := n.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		logging.Errorf("Failed to send notification to %s: %v", to, err)
		return
	}
	logging.Infof("Notification sent - to: %s, subject: %s", to, subject)
}
