package sender

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailflow-go/internal/config"
)

// GmailSender delivers approved reply drafts through the Gmail API
type GmailSender struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailSender creates the Gmail transport from a refresh token
func NewGmailSender(cfg *config.GmailConfig) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{
		service:   service,
		userEmail: cfg.UserEmail,
	}, nil
}

// SendReply sends a plain-text reply, retrying rate-limited sends with
// exponential backoff
func (g *GmailSender) SendReply(ctx context.Context, from, to, subject, body, threadID string) error {
	raw := buildReply(from, to, subject, body)

	message := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: threadID,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := g.service.Users.Messages.Send(g.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.Infof("Sent reply to %s", to)
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send reply (attempt %d/%d): %v", attempt, 3, err)

		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			waitTime := time.Duration(attempt*attempt) * time.Second
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to send reply after 3 attempts: %w", lastErr)
}

func buildReply(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
