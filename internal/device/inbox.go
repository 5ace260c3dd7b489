package device

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
)

// defaultInboxTimeout bounds a single upsert made from the dispatcher.
const defaultInboxTimeout = 5 * time.Second

// Inbox persists newly discovered devices. It implements
// discovery.ResultBuilder; the stored InboxEntry becomes the event's Result.
type Inbox struct {
	repo    Repository
	timeout time.Duration
	logger  Logger
}

// NewInbox creates an inbox over repo.
func NewInbox(repo Repository) *Inbox {
	return &Inbox{repo: repo, timeout: defaultInboxTimeout, logger: noopLogger{}}
}

// SetLogger sets the logger. Not safe to call once the engine is running.
func (i *Inbox) SetLogger(logger Logger) {
	i.logger = logger
}

// BuildResult upserts the candidate and returns the stored entry.
func (i *Inbox) BuildResult(c discovery.Candidate) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	entry, err := i.repo.UpsertInbox(ctx, InboxEntry{
		Identity:   c.Identity,
		Label:      c.Label,
		Protocol:   c.Protocol,
		Properties: c.Properties,
		Source:     c.Source,
		FirstSeen:  c.FirstSeenAt,
		LastSeen:   c.FirstSeenAt,
	})
	if err != nil {
		i.logger.Warn("inbox upsert failed", "identity", c.Identity, "error", err)
		return nil, err
	}

	i.logger.Debug("inbox entry stored",
		"identity", entry.Identity,
		"status", entry.Status,
		"seen_count", entry.SeenCount,
	)
	return entry, nil
}

// List returns inbox entries with status, or all entries when status is empty.
func (i *Inbox) List(ctx context.Context, status InboxStatus) ([]InboxEntry, error) {
	return i.repo.ListInbox(ctx, status)
}

// Get returns one inbox entry.
func (i *Inbox) Get(ctx context.Context, id string) (InboxEntry, error) {
	return i.repo.GetInbox(ctx, id)
}
