package notify

import (
	"context"
	"fmt"

	"blockpulse/internal/config"
	"blockpulse/internal/logger"

	"go.uber.org/zap"
)

// Notifier delivers a rendered message to one recipient.
type Notifier interface {
	Send(ctx context.Context, to string, msg Message) error
}

// New selects the notifier configured by MAIL_TRANSPORT.
func New(ctx context.Context, cfg *config.Config) (Notifier, error) {
	switch cfg.MailTransport {
	case "smtp", "":
		if cfg.SMTPURL == "" {
			if cfg.IsProduction() {
				return nil, fmt.Errorf("SMTP_URL is required when MAIL_TRANSPORT=smtp")
			}
			logger.Log.Warn("SMTP_URL not set, notifications will only be logged")
			return NewLogNotifier(), nil
		}
		return NewSMTPNotifier(cfg.SMTPURL, cfg.MailFrom)
	case "ses":
		return NewSESNotifier(ctx, cfg.AWSRegion, cfg.MailFrom)
	case "log":
		return NewLogNotifier(), nil
	default:
		return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
	}
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, to string, msg Message) error {
	n.log.Info("Alert notification",
		zap.String("to", to),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
