package mailbox

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/model"
)

// IMAPClient implements Client against a plain IMAP server, for
// workspaces without a REST-capable provider. The opaque page token is
// the highest sequence number already returned, so pages walk the
// mailbox in ascending order.
type IMAPClient struct {
	client  *client.Client
	sentBox string
}

// NewIMAPClient connects and logs in to the IMAP server
func NewIMAPClient(cfg *config.MailboxConfig) (*IMAPClient, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPClient{client: c, sentBox: cfg.IMAPSentBox}, nil
}

func (c *IMAPClient) mailboxFor(folder model.Folder) string {
	if folder == model.FolderSent {
		return c.sentBox
	}
	return "INBOX"
}

// ListMessages fetches one ascending sequence-number page of the folder
func (c *IMAPClient) ListMessages(ctx context.Context, folder model.Folder, limit int, pageToken string) (*Page, error) {
	box := c.mailboxFor(folder)

	status, err := c.client.Select(box, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", box, err)
	}

	var last uint32
	if pageToken != "" {
		n, err := strconv.ParseUint(pageToken, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", pageToken, err)
		}
		last = uint32(n)
	}

	if last >= status.Messages {
		return &Page{}, nil
	}

	from := last + 1
	to := last + uint32(limit)
	if to > status.Messages {
		to = status.Messages
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, to-from+1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Fetch(seqset, items, messages)
	}()

	page := &Page{}
	for msg := range messages {
		m, err := c.parseMessage(box, msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		page.Records = append(page.Records, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if to < status.Messages {
		page.NextPageToken = strconv.FormatUint(uint64(to), 10)
	}
	return page, nil
}

// GetMessage fetches a single message by the "<mailbox>-<uid>" id this
// client assigns in ListMessages
func (c *IMAPClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return nil, fmt.Errorf("invalid IMAP message id %q", id)
	}
	box := id[:idx]
	uid, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}

	if _, err := c.client.Select(box, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", box, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqset, items, messages)
	}()

	var found *Message
	for msg := range messages {
		m, err := c.parseMessage(box, msg, section)
		if err != nil {
			return nil, err
		}
		found = &m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return found, nil
}

// Close logs out of the IMAP server
func (c *IMAPClient) Close() error {
	return c.client.Logout()
}

func (c *IMAPClient) parseMessage(box string, msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	m := Message{
		ID:      fmt.Sprintf("%s-%d", box, msg.Uid),
		Headers: make(map[string]string),
	}

	if msg.Envelope != nil {
		m.Subject = msg.Envelope.Subject
		m.SentAt = msg.Envelope.Date
		m.ThreadID = msg.Envelope.MessageId
		if msg.Envelope.InReplyTo != "" {
			m.ThreadID = msg.Envelope.InReplyTo
		}
		if len(msg.Envelope.From) > 0 {
			m.From = msg.Envelope.From[0].Address()
		}
		var to []string
		for _, addr := range msg.Envelope.To {
			to = append(to, addr.Address())
		}
		m.To = strings.Join(to, ", ")
	}

	if r := msg.GetBody(section); r != nil {
		if err := parseBody(r, &m); err != nil {
			return m, err
		}
	}

	if m.Body != "" {
		snippet := strings.Join(strings.Fields(m.Body), " ")
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		m.Snippet = snippet
	}

	return m, nil
}

func parseBody(r io.Reader, out *Message) error {
	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && out.Body == "" {
				out.Body = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	out.Body = string(content)
	return nil
}
