package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds dialing and each SMTP command. Zero keeps the client default.
	Timeout time.Duration
}

// mailSender is the part of *mail.Client the dispatcher uses.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPDispatcher delivers plain-text email through an SMTP relay (MailHog in
// development).
type SMTPDispatcher struct {
	from   string
	client mailSender
	now    func() time.Time
}

// NewSMTPDispatcher creates an SMTP dispatcher. STARTTLS is used when the
// relay offers it.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(cfg.Port),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPDispatcher{from: cfg.From, client: client, now: time.Now}, nil
}

// Name returns the transport name.
func (d *SMTPDispatcher) Name() string { return "smtp" }

// Send delivers msg over a fresh connection bound to ctx.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	m, err := d.compose(msg)
	if err != nil {
		return err
	}
	if err := d.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (d *SMTPDispatcher) compose(msg Message) (*mail.Msg, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, fmt.Errorf("smtp: line break in subject")
	}

	m := mail.NewMsg()
	if err := m.From(d.from); err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	// Address parsing rejects line breaks, so the recipient cannot smuggle headers.
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(d.now())
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
