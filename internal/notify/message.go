package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"blockpulse/internal/models"

	"github.com/k3a/html2text"
	"github.com/shopspring/decimal"
)

// Message is a rendered alert email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f8fa; padding: 24px;">
  <div style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
    {{if .Logo}}<img src="{{.Logo}}" alt="{{.Name}}" width="48" height="48">{{end}}
    <h2>{{.Name}} ({{.Symbol}}) {{.Movement}} ${{.Target}}</h2>
    <p>Your price alert for <strong>{{.Name}}</strong> was triggered.</p>
    <table cellpadding="4">
      <tr><td>Target price</td><td><strong>${{.Target}}</strong></td></tr>
      <tr><td>Current price</td><td><strong>${{.Current}}</strong></td></tr>
      <tr><td>Price when alert was set</td><td>${{.Baseline}}</td></tr>
      <tr><td>Alert mode</td><td>{{.Mode}}</td></tr>
    </table>
    {{if .Recurring}}<p>You will be notified again if the condition still holds in 6 hours.</p>{{else}}<p>This alert has now been removed.</p>{{end}}
    {{if .SiteURL}}<p><a href="{{.SiteURL}}">Manage your alerts</a></p>{{end}}
  </div>
</body>
</html>
`))

type emailData struct {
	Name      string
	Symbol    string
	Logo      string
	Movement  string
	Target    string
	Current   string
	Baseline  string
	Mode      string
	Recurring bool
	SiteURL   string
}

// Render builds the notification for alert at currentPrice.
func Render(alert *models.Alert, currentPrice float64, siteURL string) (Message, error) {
	direction := alert.Direction()
	data := emailData{
		Name:      alert.Name,
		Symbol:    strings.ToUpper(alert.Symbol),
		Logo:      alert.Logo,
		Movement:  movement(direction),
		Target:    FormatPrice(alert.TargetPrice),
		Current:   FormatPrice(currentPrice),
		Baseline:  FormatPrice(alert.PriceWhenAlertSet),
		Mode:      string(alert.AlertMode),
		Recurring: alert.AlertMode == models.AlertModeRecurring,
		SiteURL:   siteURL,
	}
	if data.Name == "" {
		data.Name = alert.SymbolID
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render alert email: %w", err)
	}

	html := buf.String()
	return Message{
		Subject: fmt.Sprintf("%s %s hit $%s", icon(direction), data.Name, data.Current),
		HTML:    html,
		Text:    html2text.HTML2Text(html),
	}, nil
}

func movement(d models.Direction) string {
	switch d {
	case models.DirectionAbove:
		return "has risen above"
	case models.DirectionBelow:
		return "has fallen below"
	default:
		return "has reached"
	}
}

func icon(d models.Direction) string {
	switch d {
	case models.DirectionAbove:
		return "📈"
	case models.DirectionBelow:
		return "📉"
	default:
		return "🎯"
	}
}

// FormatPrice prints two decimals with thousands separators, keeping up to
// eight significant decimals for sub-unit prices.
func FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		s := d.Round(8).String()
		if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 >= 2 {
			return s
		}
		return d.StringFixed(2)
	}

	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
