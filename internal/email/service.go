// Package email sends account and workflow emails over SMTP.
package email

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrNotConfigured = errors.New("email not configured")

const appName = "Archboard"

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart/alternative message with a plain-text
// fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	const boundary = "archboard-boundary"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type linkData struct {
	AppName  string
	UserName string
	Company  string
	Role     string
	URL      string
}

func (s *Service) sendTemplate(to, subject, name string, data linkData) error {
	data.AppName = appName
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return s.SendHTMLEmail([]string{to}, subject, buf.String())
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	return s.sendTemplate(to, "Verify your Archboard account", "verification.html",
		linkData{UserName: userName, URL: verificationURL})
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	return s.sendTemplate(to, "Reset your Archboard password", "password_reset.html",
		linkData{UserName: userName, URL: resetURL})
}

func (s *Service) SendInviteEmail(to, inviterName, role, inviteURL string) error {
	return s.sendTemplate(to, inviterName+" invited you to Archboard", "invite.html",
		linkData{UserName: inviterName, Role: role, URL: inviteURL})
}

func (s *Service) SendFirmSignupEmail(to, adminName, company, completeURL string) error {
	return s.sendTemplate(to, "Finish setting up "+company+" on Archboard", "firm_signup.html",
		linkData{UserName: adminName, Company: company, URL: completeURL})
}
