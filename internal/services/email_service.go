package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// SecurityAlert describes something the account owner should know about.
type SecurityAlert struct {
	Subject    string
	Summary    string
	IPAddress  string
	Device     string
	Location   string
	OccurredAt time.Time
}

// EmailService delivers one-time codes and security alerts
type EmailService interface {
	SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
	SendSecurityAlert(ctx context.Context, email string, alert SecurityAlert) error
}

// SESClient is the subset of the SES API used here
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESEmailServiceWithClient(client SESClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{client: client, fromAddress: fromAddress, logger: logger}
}

func (s *AWSSESEmailService) SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	text := fmt.Sprintf(`Your verification code is %s

It expires in %d minutes and can be used once.
Requested for: %s

If you did not request this code, someone may be trying to sign in to your account.
Change your password and review your active sessions.
`, code, minutes, purpose)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Your verification code is</p>
<p style="font-size: 28px; letter-spacing: 6px;"><strong>%s</strong></p>
<p>It expires in %d minutes and can be used once.</p>
<p style="color: #666; font-size: 12px;">If you did not request this code, change your password and review your active sessions.</p>
</body></html>`, code, minutes)

	return s.send(ctx, email, "Your verification code", text, html)
}

func (s *AWSSESEmailService) SendSecurityAlert(ctx context.Context, email string, alert SecurityAlert) error {
	text := fmt.Sprintf(`%s

When:     %s
IP:       %s
Device:   %s
Location: %s

If this was you, no action is needed. Otherwise terminate the session and change your password.
`, alert.Summary, alert.OccurredAt.UTC().Format(time.RFC1123), alert.IPAddress, alert.Device, alert.Location)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>%s</p>
<table>
<tr><td>When</td><td>%s</td></tr>
<tr><td>IP</td><td>%s</td></tr>
<tr><td>Device</td><td>%s</td></tr>
<tr><td>Location</td><td>%s</td></tr>
</table>
<p>If this was you, no action is needed. Otherwise terminate the session and change your password.</p>
</body></html>`, alert.Summary, alert.OccurredAt.UTC().Format(time.RFC1123), alert.IPAddress, alert.Device, alert.Location)

	return s.send(ctx, email, alert.Subject, text, html)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, text, html string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(html)},
				Text: &types.Content{Data: aws.String(text)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailService writes emails to the log instead of sending them. Codes are
// redacted in production.
type LogEmailService struct {
	logger *slog.Logger
	env    string
}

func NewLogEmailService(logger *slog.Logger, env string) *LogEmailService {
	return &LogEmailService{logger: logger, env: env}
}

func (s *LogEmailService) SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "email delivery disabled, otp not sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("purpose", purpose),
		pkglogger.RedactedAttr("code", code, s.env),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailService) SendSecurityAlert(ctx context.Context, email string, alert SecurityAlert) error {
	s.logger.InfoContext(ctx, "email delivery disabled, security alert not sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("subject", alert.Subject),
		slog.String("ip_address", alert.IPAddress))
	return nil
}
