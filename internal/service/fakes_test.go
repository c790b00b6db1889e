package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// ── preferences ──

type memPreferences struct {
	mu    sync.Mutex
	prefs map[string]domain.Preference
	gets  int
}

func newMemPreferences(prefs ...domain.Preference) *memPreferences {
	m := &memPreferences{prefs: map[string]domain.Preference{}}
	for _, p := range prefs {
		m.prefs[p.UserID] = p
	}
	return m
}

func (m *memPreferences) Get(_ context.Context, userID string) (domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.prefs[userID]
	if !ok {
		return domain.Preference{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPreferences) Upsert(_ context.Context, p domain.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = testNow
	m.prefs[p.UserID] = p
	return nil
}

type memPrefCache struct {
	mu          sync.Mutex
	prefs       map[string]domain.Preference
	invalidated []string
}

func newMemPrefCache() *memPrefCache {
	return &memPrefCache{prefs: map[string]domain.Preference{}}
}

func (c *memPrefCache) Get(_ context.Context, userID string) (domain.Preference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prefs[userID]
	if !ok {
		return domain.Preference{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *memPrefCache) Set(_ context.Context, p domain.Preference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs[p.UserID] = p
	return nil
}

func (c *memPrefCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prefs, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

// ── notifications ──

type memNotifications struct {
	mu        sync.Mutex
	items     map[string]domain.Notification
	scheduled int
	windows   [][2]time.Time
	err       error
}

func newMemNotifications() *memNotifications {
	return &memNotifications{items: map[string]domain.Notification{}}
}

func (m *memNotifications) ScheduleWindow(_ context.Context, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, [2]time.Time{start, end})
	return m.scheduled, m.err
}

func (m *memNotifications) Create(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[n.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.items[n.ID] = n
	return nil
}

func (m *memNotifications) GetByID(_ context.Context, id string) (domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	return n, nil
}

func (m *memNotifications) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for id, n := range m.items {
		if len(out) == limit {
			break
		}
		if n.Status == domain.NotificationScheduled && !n.SendAt.After(now) {
			n.Status = domain.NotificationProcessing
			m.items[id] = n
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotifications) UpdateStatus(_ context.Context, id string, status domain.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	m.items[id] = n
	return nil
}

func (m *memNotifications) all() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, 0, len(m.items))
	for _, n := range m.items {
		out = append(out, n)
	}
	return out
}

// ── deliveries ──

type memDeliveries struct {
	mu        sync.Mutex
	recs      map[string]domain.DeliveryRecord
	order     []string
	createErr error
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{recs: map[string]domain.DeliveryRecord{}}
}

func (m *memDeliveries) Create(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.recs[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memDeliveries) Finish(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !cur.Status.CanTransition(rec.Status) {
		return domain.ErrInvalidTransition
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memDeliveries) GetByID(_ context.Context, id string) (domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return domain.DeliveryRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memDeliveries) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, id := range m.order {
		if r := m.recs[id]; r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memDeliveries) ListBefore(context.Context, time.Time) ([]domain.DeliveryRecord, error) {
	return nil, nil
}

// ── senders ──

type fakeSender struct {
	mu       sync.Mutex
	channel  domain.Channel
	failures int // transient failures before success
	err      error
	calls    []notify.Message
}

func (f *fakeSender) Channel() domain.Channel { return f.channel }
func (f *fakeSender) Provider() string        { return "fake_" + string(f.channel) }

func (f *fakeSender) Deliver(_ context.Context, msg notify.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return "", f.err
	}
	if f.failures > 0 {
		f.failures--
		return "", errors.New("provider unavailable")
	}
	return "msg-" + string(f.channel), nil
}

// ── bus & alerts ──

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// ── billing ──

type memWebhookEvents struct {
	mu     sync.Mutex
	events map[string]domain.WebhookEvent
}

func newMemWebhookEvents() *memWebhookEvents {
	return &memWebhookEvents{events: map[string]domain.WebhookEvent{}}
}

func (m *memWebhookEvents) Begin(_ context.Context, evt domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.events[evt.ID]
	if !ok {
		evt.Attempts = 1
		m.events[evt.ID] = evt
		return evt, true, nil
	}
	if cur.Status != domain.WebhookFailed {
		return cur, false, nil
	}
	cur.Status = domain.WebhookProcessing
	cur.Attempts++
	cur.Error = ""
	m.events[evt.ID] = cur
	return cur, true, nil
}

func (m *memWebhookEvents) Complete(_ context.Context, id string, status domain.WebhookEventStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = status
	cur.Error = errMsg
	m.events[id] = cur
	return nil
}

func (m *memWebhookEvents) ListBefore(context.Context, time.Time) ([]domain.WebhookEvent, error) {
	return nil, nil
}

func (m *memWebhookEvents) get(id string) domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

type memSubscriptions struct {
	mu        sync.Mutex
	byUser    map[string]domain.Subscription
	upsertErr error
}

func newMemSubscriptions(subs ...domain.Subscription) *memSubscriptions {
	m := &memSubscriptions{byUser: map[string]domain.Subscription{}}
	for _, s := range subs {
		m.byUser[s.UserID] = s
	}
	return m
}

func (m *memSubscriptions) GetByUser(_ context.Context, userID string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memSubscriptions) GetByProviderID(_ context.Context, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byUser {
		if s.ProviderSubscriptionID == id {
			return s, nil
		}
	}
	return domain.Subscription{}, domain.ErrNotFound
}

func (m *memSubscriptions) Upsert(_ context.Context, s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.byUser[s.UserID] = s
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	events  []string
	entries []domain.AuditEntry
}

func (a *memAudit) Append(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e.Event)
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) ListBySubject(_ context.Context, subject string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── moderation ──

type memMessages struct {
	mu    sync.Mutex
	msgs  map[string]domain.ChatMessage
	tones map[string]domain.ToneResult
}

func newMemMessages(msgs ...domain.ChatMessage) *memMessages {
	m := &memMessages{msgs: map[string]domain.ChatMessage{}, tones: map[string]domain.ToneResult{}}
	for _, msg := range msgs {
		m.msgs[msg.ID] = msg
	}
	return m
}

func (m *memMessages) GetByID(_ context.Context, id string) (domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotFound
	}
	return msg, nil
}

func (m *memMessages) SetTone(_ context.Context, id string, r domain.ToneResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[id]; !ok {
		return domain.ErrNotFound
	}
	m.tones[id] = r
	return nil
}
