package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/provider"
	"github.com/kursadbilgin/investor-mailer/internal/queue"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
)

// fakeScheduledSendRepo keeps records in memory with the same due-set and
// conditional-transition rules as the SQL repository. The fn fields inject
// faults.
type fakeScheduledSendRepo struct {
	mu        sync.Mutex
	records   map[string]*domain.ScheduledSend
	order     []string
	contacts  *fakeContactRepo
	markCalls map[string]int
	nextID    int

	fetchDueFn   func(ctx context.Context, now time.Time, limit int) ([]domain.DueSend, error)
	markStatusFn func(ctx context.Context, id string, status domain.Status) (bool, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.ScheduledSend, error)
}

var _ repository.ScheduledSendRepository = (*fakeScheduledSendRepo)(nil)

func newFakeScheduledSendRepo(contacts *fakeContactRepo) *fakeScheduledSendRepo {
	return &fakeScheduledSendRepo{
		records:   make(map[string]*domain.ScheduledSend),
		contacts:  contacts,
		markCalls: make(map[string]int),
	}
}

func (f *fakeScheduledSendRepo) Enqueue(ctx context.Context, s *domain.ScheduledSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	s.ID = fmt.Sprintf("send-%d", f.nextID)
	s.Status = domain.StatusPending
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt

	stored := *s
	f.records[s.ID] = &stored
	f.order = append(f.order, s.ID)
	return nil
}

// add stores a pending record directly, bypassing the enqueue rules.
func (f *fakeScheduledSendRepo) add(recipientID int64, subject string, dueAt time.Time) *domain.ScheduledSend {
	s := &domain.ScheduledSend{
		RecipientID:    recipientID,
		RecipientEmail: fmt.Sprintf("snapshot-%d@fund.com", recipientID),
		Subject:        subject,
		Body:           "<p>" + subject + "</p>",
		DueAt:          dueAt,
	}
	_ = f.Enqueue(context.Background(), s)
	return s
}

func (f *fakeScheduledSendRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.DueSend, error) {
	if f.fetchDueFn != nil {
		return f.fetchDueFn(ctx, now, limit)
	}
	return f.fetchDue(now, limit)
}

func (f *fakeScheduledSendRepo) fetchDue(now time.Time, limit int) ([]domain.DueSend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	due := make([]domain.DueSend, 0)
	for _, id := range f.order {
		record := f.records[id]
		if record.Status != domain.StatusPending || record.DueAt.After(now) {
			continue
		}
		item := domain.DueSend{ScheduledSend: *record}
		if contact, ok := f.contacts.lookup(record.RecipientID); ok {
			item.ContactEmail = contact.Email
			item.ContactName = contact.Name
		}
		due = append(due, item)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeScheduledSendRepo) MarkStatus(ctx context.Context, id string, status domain.Status) (bool, error) {
	if f.markStatusFn != nil {
		return f.markStatusFn(ctx, id, status)
	}
	return f.markStatus(id, status)
}

func (f *fakeScheduledSendRepo) markStatus(id string, status domain.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.markCalls[id]++
	record, ok := f.records[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if record.Status != domain.StatusPending {
		return false, nil
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeScheduledSendRepo) Cancel(ctx context.Context, id string) error {
	updated, err := f.markStatus(id, domain.StatusCancelled)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: scheduled send %s is no longer pending", domain.ErrConflict, id)
	}
	return nil
}

func (f *fakeScheduledSendRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledSend, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeScheduledSendRepo) List(ctx context.Context, params repository.ListParams) ([]domain.ScheduledSend, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.ScheduledSend, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.records[id])
	}
	return out, int64(len(out)), nil
}

func (f *fakeScheduledSendRepo) status(id string) domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id].Status
}

func (f *fakeScheduledSendRepo) marks(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls[id]
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[int64]*domain.Contact
	getErr   error
}

var _ repository.ContactRepository = (*fakeContactRepo)(nil)

func newFakeContactRepo(contacts ...domain.Contact) *fakeContactRepo {
	f := &fakeContactRepo{contacts: make(map[int64]*domain.Contact)}
	for i := range contacts {
		c := contacts[i]
		f.contacts[c.ID] = &c
	}
	return f
}

func (f *fakeContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c.ID = int64(len(f.contacts) + 1)
	stored := *c
	f.contacts[c.ID] = &stored
	return nil
}

func (f *fakeContactRepo) GetByID(ctx context.Context, id int64) (*domain.Contact, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	contact, ok := f.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &contact, nil
}

func (f *fakeContactRepo) lookup(id int64) (domain.Contact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contact, ok := f.contacts[id]
	if !ok {
		return domain.Contact{}, false
	}
	return *contact, true
}

func (f *fakeContactRepo) update(id int64, mutate func(c *domain.Contact)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f.contacts[id])
}

type fakeSuppressionRepo struct {
	suppressed map[string]bool
	err        error
}

func (f *fakeSuppressionRepo) Add(ctx context.Context, email string, reason string) error {
	if f.suppressed == nil {
		f.suppressed = make(map[string]bool)
	}
	f.suppressed[strings.ToLower(email)] = true
	return nil
}

func (f *fakeSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.suppressed[strings.ToLower(email)], nil
}

type fakeHistoryRepo struct {
	mu       sync.Mutex
	entries  []domain.SentHistoryEntry
	appendFn func(ctx context.Context, e *domain.SentHistoryEntry) error
}

func (f *fakeHistoryRepo) Append(ctx context.Context, e *domain.SentHistoryEntry) error {
	if f.appendFn != nil {
		if err := f.appendFn(ctx, e); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeHistoryRepo) ListRecent(ctx context.Context, limit int) ([]domain.SentHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SentHistoryEntry(nil), f.entries...), nil
}

func (f *fakeHistoryRepo) all() []domain.SentHistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SentHistoryEntry(nil), f.entries...)
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []queue.DeliveryEvent
	publishFn func(ctx context.Context, event queue.DeliveryEvent) error
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.DeliveryEvent) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, event); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeCapability struct {
	mu      sync.Mutex
	account string
	sent    []sentMail
	sendFn  func(to string, subject string) domain.DeliveryOutcome
}

func (f *fakeCapability) Send(ctx context.Context, to string, subject string, htmlBody string) domain.DeliveryOutcome {
	f.mu.Lock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(to, subject)
	}
	return domain.Delivered("")
}

func (f *fakeCapability) Account() string {
	return f.account
}

func (f *fakeCapability) sends() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeAcquirer struct {
	mu         sync.Mutex
	capability *fakeCapability
	calls      int
}

func (f *fakeAcquirer) Acquire(ctx context.Context) (provider.Capability, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.capability == nil {
		return nil, false
	}
	return f.capability, true
}

func (f *fakeAcquirer) acquireCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLimiter struct {
	mu       sync.Mutex
	accounts []string
	waitFn   func(ctx context.Context, sender string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, sender string) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) waited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

func (f *fakeLimiter) Wait(ctx context.Context, sender string) error {
	f.mu.Lock()
	f.accounts = append(f.accounts, sender)
	f.mu.Unlock()

	if f.waitFn != nil {
		return f.waitFn(ctx, sender)
	}
	return nil
}
