package email

import (
	"context"
	"fmt"
	"html"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

type Service interface {
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPService struct {
	from   string
	dialer dialer
}

func NewSMTPService(cfg Config) *SMTPService {
	return &SMTPService{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)
	m.AddAlternative("text/html", "<p>"+html.EscapeString(content)+"</p>")

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// FallbackNotifier emails the notification to its owner when there is no
// push endpoint to deliver to.
type FallbackNotifier struct {
	users  repository.UserRepository
	mailer Service
}

func NewFallbackNotifier(users repository.UserRepository, mailer Service) *FallbackNotifier {
	return &FallbackNotifier{users: users, mailer: mailer}
}

// Notify returns the address it wrote to.
func (f *FallbackNotifier) Notify(ctx context.Context, n *model.ScheduledNotification) (string, error) {
	user, err := f.users.Get(ctx, n.UserID)
	if err != nil {
		return "", err
	}
	if user.Email == "" {
		return "", fmt.Errorf("user %d has no email address", n.UserID)
	}

	body := n.Payload.Body
	if u := n.Payload.URL(); u != "" && u != "/" {
		body += "\n\n" + u
	}
	if err := f.mailer.SendCustom(ctx, user.Email, n.Payload.Title, body); err != nil {
		return user.Email, err
	}
	return user.Email, nil
}
