package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Email is the SMTP/IMAP adapter: outbound notifications go out as
// multipart mail with an HTML rendering of the markdown body, inbound mail
// from the configured address is polled from INBOX.
type Email struct {
	From     string
	To       string
	SMTPHost string
	SMTPPort int
	IMAPHost string
	IMAPPort int
	Username string
	Password string

	PollEvery time.Duration

	log *slog.Logger
}

func NewEmail() *Email {
	return &Email{
		PollEvery: 2 * time.Minute,
		log:       slog.Default().With("component", "email"),
	}
}

func (e *Email) Name() string { return "email" }

// Send delivers text to the given address, or the configured To when chatID
// is empty. The subject is the first line of the message.
func (e *Email) Send(ctx context.Context, chatID, text string) error {
	to := strings.TrimSpace(chatID)
	if to == "" {
		to = strings.TrimSpace(e.To)
	}
	if to == "" {
		return errors.New("email recipient is required")
	}
	from := strings.TrimSpace(e.From)
	if from == "" {
		from = strings.TrimSpace(e.Username)
	}
	if from == "" {
		return errors.New("email from address is required")
	}

	subject := text
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = subject[:i]
	}
	if len(subject) > 78 {
		subject = subject[:78]
	}

	msg, err := buildAlternativeEmail(from, to, subject, text)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.SMTPHost, e.SMTPPort)
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, e.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp client failed: %w", err)
	}
	defer func() { _ = c.Quit() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls failed: %w", err)
		}
	}
	if e.Password != "" {
		auth := smtp.PlainAuth("", e.Username, e.Password, e.SMTPHost)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	return nil
}

// Run polls INBOX for unseen mail until ctx is cancelled. A failed
// connection is dropped and re-dialed on the next tick.
func (e *Email) Run(ctx context.Context, inbox chan<- InboundMessage) error {
	if e.IMAPHost == "" {
		return errors.New("imap host is not configured")
	}
	interval := e.PollEvery
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var c *imapclient.Client
	defer func() {
		if c != nil {
			_ = c.Logout()
		}
	}()

	for {
		if c == nil {
			conn, err := e.connectIMAP()
			if err != nil {
				e.log.Warn("imap connect failed", "error", err)
			} else {
				c = conn
			}
		}
		if c != nil {
			if err := e.pollOnce(ctx, c, inbox); err != nil {
				e.log.Warn("imap poll failed", "error", err)
				_ = c.Logout()
				c = nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Email) connectIMAP() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", e.IMAPHost, e.IMAPPort)
	c, err := imapclient.DialTLS(addr, &tls.Config{ServerName: e.IMAPHost})
	if err != nil {
		return nil, fmt.Errorf("imap dial failed: %w", err)
	}
	c.Timeout = 25 * time.Second

	if err := c.Login(e.Username, e.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select INBOX failed: %w", err)
	}
	return c, nil
}

func (e *Email) pollOnce(ctx context.Context, c *imapclient.Client, inbox chan<- InboundMessage) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search UNSEEN failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	msgCh := make(chan *imap.Message, len(ids))
	fetchErrCh := make(chan error, 1)
	go func() {
		fetchErrCh <- c.Fetch(seqset, items, msgCh)
	}()

	for msg := range msgCh {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg == nil {
			continue
		}
		sender, body := parseEmailMessage(msg, section)
		if strings.TrimSpace(body) == "" || sender == "" {
			_ = e.markSeen(c, msg.SeqNum)
			continue
		}
		if strings.EqualFold(sender, strings.TrimSpace(e.Username)) {
			_ = e.markSeen(c, msg.SeqNum)
			continue
		}
		select {
		case inbox <- InboundMessage{Channel: e.Name(), ChatID: sender, Sender: sender, Text: body}:
		case <-ctx.Done():
			return ctx.Err()
		}
		_ = e.markSeen(c, msg.SeqNum)
	}

	if err := <-fetchErrCh; err != nil {
		return fmt.Errorf("imap fetch failed: %w", err)
	}
	return nil
}

func (e *Email) markSeen(c *imapclient.Client, seqNum uint32) error {
	if seqNum == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

func parseEmailMessage(msg *imap.Message, section *imap.BodySectionName) (sender, body string) {
	if msg.Envelope != nil && len(msg.Envelope.From) > 0 {
		sender = strings.TrimSpace(msg.Envelope.From[0].Address())
	}

	r := msg.GetBody(section)
	if r == nil {
		return sender, ""
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return sender, ""
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return sender, extractBodyFallback(raw)
	}
	return sender, extractTextBody(reader)
}

// extractTextBody prefers the first text/plain part, falling back to HTML.
// go-message decodes transfer-encoding and charset for text entities.
func extractTextBody(r *mail.Reader) string {
	var plain, html string
	for {
		part, err := r.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, _ := io.ReadAll(part.Body)
		text := strings.TrimSpace(string(b))
		if text == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(ct)) {
		case "text/html":
			if html == "" {
				html = text
			}
		default:
			if plain == "" {
				plain = text
			}
		}
	}
	if plain != "" {
		return plain
	}
	return html
}

func extractBodyFallback(raw []byte) string {
	text := string(raw)
	idx := strings.Index(text, "\r\n\r\n")
	sepLen := 4
	if idx < 0 {
		idx = strings.Index(text, "\n\n")
		sepLen = 2
	}
	if idx >= 0 && idx+sepLen < len(text) {
		text = text[idx+sepLen:]
	}
	return strings.TrimSpace(text)
}
