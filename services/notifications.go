package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/metrics"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

// Messenger delivers one text message to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID, text string) error
}

// Notification is one queued outbound message.
type Notification struct {
	UserID uint
	ChatID string
	Text   string
}

// Enqueuer accepts notifications without blocking.
type Enqueuer interface {
	Enqueue(n Notification) bool
}

// DispatcherOptions tune the queue and retry policy.
type DispatcherOptions struct {
	QueueSize      int
	Workers        int
	MaxRetries     uint64
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 800 * time.Millisecond
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
	return o
}

// Dispatcher is a bounded fire-and-forget queue drained by worker goroutines.
// A full queue drops messages; delivery failures are logged and counted only.
type Dispatcher struct {
	messenger Messenger
	opts      DispatcherOptions
	queue     chan Notification

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(m Messenger, opts DispatcherOptions) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		messenger: m,
		opts:      opts,
		queue:     make(chan Notification, opts.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Enqueue queues n and reports whether it was accepted. It never blocks.
func (d *Dispatcher) Enqueue(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.Notification("dropped")
		return false
	}
	select {
	case d.queue <- n:
		metrics.SetNotifyQueueDepth(len(d.queue))
		return true
	default:
		metrics.Notification("dropped")
		utils.Logger.Warn("notification queue full, dropping message", zap.Uint("user_id", n.UserID))
		return false
	}
}

// Stop refuses new messages, lets the workers drain the queue and waits for
// them. When ctx ends first the in-flight sends are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		metrics.SetNotifyQueueDepth(len(d.queue))
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
		defer cancel()
		err := d.messenger.Send(actx, n.ChatID, n.Text)
		var perm interface{ Permanent() bool }
		if errors.As(err, &perm) && perm.Permanent() {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.opts.InitialBackoff),
		backoff.WithMaxInterval(d.opts.MaxBackoff),
	), d.opts.MaxRetries)

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		metrics.Notification("failed")
		utils.Logger.Warn("notification delivery failed",
			zap.Uint("user_id", n.UserID),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}
	metrics.Notification("sent")
}

// CheckInNotifier tells an author's friends about a new check-in.
type CheckInNotifier struct {
	db  *gorm.DB
	enq Enqueuer
}

func NewCheckInNotifier(db *gorm.DB, enq Enqueuer) *CheckInNotifier {
	return &CheckInNotifier{db: db, enq: enq}
}

// Recipients returns users who would see the check-in (accepted friends of the
// author inside the project) and opted in with a usable chat id.
func (c *CheckInNotifier) Recipients(ctx context.Context, authorID, projectID uint) ([]models.User, error) {
	db := c.db.WithContext(ctx)
	friends, err := FriendIDs(db, authorID)
	if err != nil {
		return nil, err
	}
	if len(friends) == 0 {
		return nil, nil
	}
	members, err := MemberIDs(db, projectID)
	if err != nil {
		return nil, err
	}
	users, err := UsersWithPreferences(db, utils.Intersect(friends, members))
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.Prefs().CanReceiveCheckInAlerts() {
			out = append(out, u)
		}
	}
	return out, nil
}

// NotifyFriendsOfCheckIn queues one alert per recipient and returns how many
// were accepted. Errors are logged, never returned.
func (c *CheckInNotifier) NotifyFriendsOfCheckIn(ctx context.Context, author string, project models.Project, ci models.CheckIn, loc *time.Location) int {
	if c == nil || c.enq == nil {
		return 0
	}
	recipients, err := c.Recipients(ctx, ci.UserID, project.ID)
	if err != nil {
		utils.Logger.Warn("notification recipients lookup failed", zap.Uint("check_in_id", ci.ID), zap.Error(err))
		return 0
	}
	text := FormatCheckInAlert(author, project.Name, ci.Note, ci.CheckTime, loc)
	queued := 0
	for _, u := range recipients {
		if c.enq.Enqueue(Notification{UserID: u.ID, ChatID: u.Prefs().TelegramChatID, Text: text}) {
			queued++
		}
	}
	return queued
}

// FormatCheckInAlert renders the HTML message body sent to friends.
func FormatCheckInAlert(author, project, note string, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString("🔔 <b>Check-in Alert!</b>\n\n")
	fmt.Fprintf(&b, "Your friend <b>%s</b> just completed a check-in for project <b>%s</b>!\n\n",
		html.EscapeString(author), html.EscapeString(project))
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&b, "📝 <b>Note:</b> \"%s\"\n\n", html.EscapeString(note))
	}
	fmt.Fprintf(&b, "⏰ <b>Time:</b> %s", at.In(loc).Format("2006-01-02 15:04:05"))
	return b.String()
}
