package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/utils"
)

// mailSender delivers one rendered message.
type mailSender interface {
	Send(ctx context.Context, toEmail, toName, subject, plainText, html string) error
}

type sendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func (s *sendGridSender) Send(ctx context.Context, toEmail, toName, subject, plainText, html string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, html)

	logger.ExternalServiceCall("sendgrid", "send", "to", toEmail, "subject", subject)
	response, err := s.client.SendWithContext(ctx, message)
	if err == nil && response.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	logger.ExternalServiceResult("sendgrid", "send", err, "to", toEmail)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// logSender writes messages to the log instead of sending them. It is used
// when no SendGrid API key is configured.
type logSender struct{}

func (logSender) Send(ctx context.Context, toEmail, toName, subject, plainText, html string) error {
	logger.InfoContext(ctx, "Email (not sent, no provider configured)", "to", toEmail, "subject", subject, "body", plainText)
	return nil
}

type emailService struct {
	sender mailSender
}

// NewEmailService sends through SendGrid when apiKey is set and logs the
// messages otherwise.
func NewEmailService(apiKey, fromEmail, fromName string) NotificationService {
	if apiKey == "" {
		return &emailService{sender: logSender{}}
	}
	return &emailService{sender: &sendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}}
}

func (s *emailService) SendReservationApproved(ctx context.Context, email, name, title string, loan *domain.Loan) error {
	subject := fmt.Sprintf("Your reservation of %s was approved", title)
	body := fmt.Sprintf("Hello %s,\n\nYour reservation of \"%s\" has been approved. Please pick it up at the library.\n\nLoan period: %s to %s.\n\nMunicipal Library",
		name, title, utils.FormatDate(loan.StartDate), utils.FormatDate(loan.EndDate))
	return s.sender.Send(ctx, email, name, subject, body, "")
}

func (s *emailService) SendReservationRejected(ctx context.Context, email, name, title, reason string) error {
	subject := fmt.Sprintf("Your reservation of %s was not approved", title)
	body := fmt.Sprintf("Hello %s,\n\nYour reservation of \"%s\" could not be approved.\n\nReason: %s\n\nMunicipal Library", name, title, reason)
	return s.sender.Send(ctx, email, name, subject, body, "")
}

func (s *emailService) SendSanctionNotice(ctx context.Context, email, name, reason string, expiry time.Time) error {
	subject := "Your library account has been restricted"
	body := fmt.Sprintf("Hello %s,\n\nYou cannot make new reservations until %s.\n\nReason: %s\n\nMunicipal Library",
		name, utils.FormatDate(expiry), reason)
	return s.sender.Send(ctx, email, name, subject, body, "")
}

func (s *emailService) SendOverdueReminder(ctx context.Context, email, name, title string, loan *domain.Loan) error {
	subject := fmt.Sprintf("%s is overdue", title)
	body := fmt.Sprintf("Hello %s,\n\n\"%s\" was due on %s and is now %d days overdue. Please return it as soon as possible.\n\nMunicipal Library",
		name, title, utils.FormatDate(loan.EndDate), loan.DaysOverdue)
	return s.sender.Send(ctx, email, name, subject, body, "")
}
