package services

import (
	"fmt"
	"html"
	"log"
	"net/smtp"
	"strings"

	"invoicing-backend/internal/models"
)

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
}

func NewEmailService(host, port, user, pass, from, frontendURL string) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Println("⚠ Email service running in DEV MODE (logging to console)")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		devMode:     devMode,
	}
}

// SendInvoiceReminder emails the invoice's client a payment reminder. message
// is the reminder text; paragraphs are separated by blank lines.
func (s *EmailService) SendInvoiceReminder(inv *models.Invoice, message string) error {
	if inv.ClientEmail == "" {
		return fmt.Errorf("invoice %s has no client email", inv.Number)
	}
	subject := fmt.Sprintf("Payment reminder: invoice %s", inv.Number)
	return s.sendHTML(inv.ClientEmail, subject, s.renderReminder(inv, message))
}

func (s *EmailService) renderReminder(inv *models.Invoice, message string) string {
	invoiceURL := fmt.Sprintf("%s/invoices/%s", s.frontendURL, inv.ID)

	var paragraphs strings.Builder
	for _, p := range strings.Split(strings.TrimSpace(message), "\n\n") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		fmt.Fprintf(&paragraphs, `<p style="color: #475569; font-size: 14px; line-height: 1.6; margin: 0 0 16px;">%s</p>`,
			strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: #0f766e; padding: 24px 32px;">
      <h1 style="color: white; margin: 0; font-size: 20px; font-weight: 700;">Invoice %s</h1>
      <p style="color: rgba(255,255,255,0.85); margin: 8px 0 0; font-size: 14px;">Balance due $%.2f by %s</p>
    </div>
    <div style="padding: 32px;">
      %s
      <a href="%s" style="display: inline-block; background: #0f766e; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        View Invoice
      </a>
    </div>
  </div>
</body>
</html>`, html.EscapeString(inv.Number), inv.Balance, inv.DueDate.Format("January 2, 2006"), paragraphs.String(), invoiceURL)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		log.Printf("📧 [DEV EMAIL] To: %s | Subject: %s", to, subject)
		log.Printf("📧 Body:\n%s", htmlBody)
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}
