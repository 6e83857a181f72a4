// Package notify keeps the notification feed raised by the scheduler and
// fans new notifications out to a publisher.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/models"
)

const (
	// DefaultLimit is the number of notifications the feed keeps.
	DefaultLimit = 100
	// DefaultDismissedLimit is the number of dismissed event keys remembered.
	DefaultDismissedLimit = 10000
)

var ErrNotificationNotFound = errors.New("notification not found")

// Publisher delivers a notification outside the process.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// FeedOptions configures a Feed.
type FeedOptions struct {
	Limit          int
	DismissedLimit int
	Publisher      Publisher
	PublishTimeout time.Duration
	Logger         logrus.FieldLogger
	Now            func() time.Time
}

// Feed is the bounded notification list, newest first.
type Feed struct {
	opts FeedOptions
	log  logrus.FieldLogger
	wg   sync.WaitGroup

	mu    sync.Mutex
	items []models.Notification
	// event keys of removed or trimmed notifications, oldest first in order;
	// they are not raised again while remembered
	dismissed      map[string]bool
	dismissedOrder []string
}

// NewFeed creates an empty feed.
func NewFeed(opts FeedOptions) *Feed {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.DismissedLimit <= 0 {
		opts.DismissedLimit = DefaultDismissedLimit
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Feed{
		opts:      opts,
		log:       opts.Logger.WithField("component", "notify"),
		dismissed: make(map[string]bool),
	}
}

// Add puts n at the head of the feed. It returns false when a notification
// with the same dedup key is present or was dismissed.
func (f *Feed) Add(n models.Notification) (models.Notification, bool) {
	f.mu.Lock()
	if (n.DedupKey != "" && f.hasKeyLocked(n.DedupKey)) || f.dismissed[eventKey(n)] {
		f.mu.Unlock()
		return models.Notification{}, false
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.opts.Now()
	}
	n.IsRead = false
	f.items = append([]models.Notification{n}, f.items...)
	if len(f.items) > f.opts.Limit {
		for _, old := range f.items[f.opts.Limit:] {
			f.dismissLocked(old)
		}
		f.items = f.items[:f.opts.Limit]
	}
	f.mu.Unlock()

	f.log.WithFields(logrus.Fields{"kind": n.Kind, "record_id": n.RecordID}).Info(n.Title)
	f.publish(n)
	return n, true
}

func (f *Feed) publish(n models.Notification) {
	if f.opts.Publisher == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.opts.PublishTimeout)
		defer cancel()
		if err := f.opts.Publisher.Publish(ctx, n); err != nil {
			f.log.WithError(err).WithField("notification_id", n.ID).Warn("Failed to publish notification")
		}
	}()
}

func (f *Feed) hasKeyLocked(key string) bool {
	for _, it := range f.items {
		if it.DedupKey == key {
			return true
		}
	}
	return false
}

func eventKey(n models.Notification) string {
	if n.EventKey != "" {
		return n.EventKey
	}
	return n.DedupKey
}

func (f *Feed) dismissLocked(n models.Notification) {
	key := eventKey(n)
	if key == "" || f.dismissed[key] {
		return
	}
	f.dismissed[key] = true
	f.dismissedOrder = append(f.dismissedOrder, key)
	if over := len(f.dismissedOrder) - f.opts.DismissedLimit; over > 0 {
		for _, old := range f.dismissedOrder[:over] {
			delete(f.dismissed, old)
		}
		f.dismissedOrder = append([]string(nil), f.dismissedOrder[over:]...)
	}
}

// HasKey reports whether a notification with key is in the feed.
func (f *Feed) HasKey(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasKeyLocked(key)
}

// List returns the feed, newest first.
func (f *Feed) List() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.items...)
}

// UnreadCount returns the number of unread notifications.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// MarkRead flags one notification as read.
func (f *Feed) MarkRead(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

// MarkAllRead flags every notification as read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		f.items[i].IsRead = true
	}
}

// Remove deletes one notification.
func (f *Feed) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.items {
		if it.ID == id {
			f.dismissLocked(it)
			f.items = append(f.items[:i:i], f.items[i+1:]...)
			return nil
		}
	}
	return ErrNotificationNotFound
}

// Clear deletes every notification.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		f.dismissLocked(it)
	}
	f.items = nil
}

// Close waits for pending publishes.
func (f *Feed) Close() {
	f.wg.Wait()
}
