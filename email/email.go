// Package email sends transactional mail over smtp. Callers treat it as
// fire-and-forget: delivery failures are logged by the background pool and
// never affect committed state.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Mailer struct {
	from     string
	password string
	host     string
	port     string
	loginURL string
}

func New(address string, password string, host string, port string, loginURL string) *Mailer {
	return &Mailer{
		from:     address,
		password: password,
		host:     host,
		port:     port,
		loginURL: loginURL,
	}
}

type purchaseData struct {
	CourseName string
	Amount     string
	Password   string
	LoginURL   string
}

var purchaseTmpl = template.Must(template.New("purchase").Parse(`
<html>
<body>
	<h2>Thank you for your purchase!</h2>
	<p>Your payment of ${{.Amount}} for <strong>{{.CourseName}}</strong> is confirmed.</p>
	{{if .Password}}
	<p>We created an account for you. Sign in with this email address and the
	one-time password below, then change it:</p>
	<p><code>{{.Password}}</code></p>
	{{end}}
	<p><a href="{{.LoginURL}}">Sign in</a> to download your course.</p>
</body>
</html>`))

// SendPurchase mails the purchase confirmation. Password, when set, is the
// one-time credential of a freshly provisioned account; it exists only in
// this message.
func (m *Mailer) SendPurchase(to string, courseName string, amount int64, password string) error {
	data := purchaseData{
		CourseName: courseName,
		Amount:     fmt.Sprintf("%d.%02d", amount/100, amount%100),
		Password:   password,
		LoginURL:   m.loginURL,
	}

	var body bytes.Buffer
	if err := purchaseTmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("rendering purchase email: %w", err)
	}

	return m.send(to, "Your course purchase", body.String())
}

func (m *Mailer) send(to string, subject string, htmlBody string) error {
	var msg strings.Builder
	msg.WriteString("MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n")
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n\r\n", subject)
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.password != "" {
		auth = smtp.PlainAuth("", m.from, m.password, m.host)
	}

	addr := m.host + ":" + m.port
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}

	return nil
}
