package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailflow-go/internal/model"
)

// Client fetches mail from the upstream provider. Pages are strictly
// sequential: each page's token comes from the previous response.
type Client interface {
	// ListMessages returns one page of the folder. An empty pageToken
	// starts from the beginning; an empty NextPageToken in the result
	// means the folder is exhausted.
	ListMessages(ctx context.Context, folder model.Folder, limit int, pageToken string) (*Page, error)
	// GetMessage fetches a single message body by external id
	GetMessage(ctx context.Context, id string) (*Message, error)
	Close() error
}

// Page is one page of a folder listing
type Page struct {
	Records       []Message
	NextPageToken string
}

// Message is a normalized upstream message
type Message struct {
	ID       string            `json:"id"`
	ThreadID string            `json:"threadId"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Snippet  string            `json:"snippet"`
	Body     string            `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}

// ErrAuthExpired indicates the provider rejected our credentials. Not
// retryable: the owner must reconnect their account.
var ErrAuthExpired = errors.New("mailbox authorization expired")

// RateLimitedError is returned when the remaining call budget cannot
// absorb the backoff the provider demands. The caller should checkpoint
// and re-enqueue its continuation delayed by Delay.
type RateLimitedError struct {
	Delay time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("upstream rate limited, retry in %s", e.Delay)
}
