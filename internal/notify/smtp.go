package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

type sender interface {
	Send(message string, params *types.Params) []error
}

// SMTPNotifier sends HTML mail through a shoutrrr smtp:// URL. Recipient and
// subject are supplied per message.
type SMTPNotifier struct {
	sender sender
	from   string
}

func NewSMTPNotifier(serviceURL, from string) (*SMTPNotifier, error) {
	router, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_URL: %w", err)
	}
	return &SMTPNotifier{sender: router, from: from}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := types.Params{
		"toaddresses": to,
		"subject":     msg.Subject,
		"usehtml":     "yes",
	}
	if n.from != "" {
		params["fromaddress"] = n.from
	}

	var errs []error
	for _, err := range n.sender.Send(msg.HTML, &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("smtp send to %s: %w", to, errors.Join(errs...))
	}
	return nil
}
