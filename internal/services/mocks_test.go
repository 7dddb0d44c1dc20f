package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/store"
)

var errProviderDown = errors.New("mail provider unavailable")

// fakeOrders is an in-memory order store that applies the same
// compare-and-set semantics as the real conditional update.
type fakeOrders struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Order

	transitionErr error
	transitions   int
	deleted       map[uuid.UUID]bool
	deletedEmails []string
	deleteErr     error
	anonymized    []string
}

func newFakeOrders(orders ...*models.Order) *fakeOrders {
	f := &fakeOrders{
		byID:    map[uuid.UUID]*models.Order{},
		deleted: map[uuid.UUID]bool{},
	}
	for _, order := range orders {
		f.byID[order.ID] = order
	}
	return f
}

func (f *fakeOrders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[id]
	if !ok || f.deleted[id] {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrders) Transition(_ context.Context, id uuid.UUID, from store.TransitionFrom, update store.TransitionUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transitions++
	if f.transitionErr != nil {
		return 0, f.transitionErr
	}

	order, ok := f.byID[id]
	if !ok || f.deleted[id] {
		return 0, nil
	}
	if len(from.PaymentStatuses) > 0 && !contains(from.PaymentStatuses, order.PaymentStatus) {
		return 0, nil
	}
	if len(from.OrderStatuses) > 0 && !contains(from.OrderStatuses, order.OrderStatus) {
		return 0, nil
	}

	if update.PaymentStatus != nil {
		order.PaymentStatus = *update.PaymentStatus
	}
	if update.OrderStatus != nil {
		order.OrderStatus = *update.OrderStatus
	}
	if update.ShiprocketStatus != nil {
		order.ShiprocketStatus = *update.ShiprocketStatus
	}
	if update.GatewayOrderID != nil {
		order.GatewayOrderID = *update.GatewayOrderID
	}
	if update.PaymentID != nil {
		order.PaymentID = *update.PaymentID
	}
	if update.PaidAt != nil {
		order.PaidAt = update.PaidAt
	}
	if update.TaxableAmount != nil {
		order.TaxableAmount = *update.TaxableAmount
	}
	if update.TaxAmount != nil {
		order.TaxAmount = *update.TaxAmount
	}
	if update.ShipmentID != nil {
		order.ShipmentID = *update.ShipmentID
	}
	if update.CarrierOrderID != nil {
		order.CarrierOrderID = *update.CarrierOrderID
	}
	if update.AWBCode != nil {
		order.AWBCode = *update.AWBCode
	}
	if update.LabelURL != nil {
		order.LabelURL = *update.LabelURL
	}
	if update.ManifestURL != nil {
		order.ManifestURL = *update.ManifestURL
	}
	if update.PickupScheduledAt != nil {
		order.PickupScheduledAt = update.PickupScheduledAt
	}
	return 1, nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// Retention-side queries mirror the SQL predicates of the real store.

func (f *fakeOrders) ListAbandonedForNotice(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, order := range f.byID {
		if f.deleted[order.ID] {
			continue
		}
		if order.OrderStatus == models.OrderStatusCheckedOut &&
			order.PaymentStatus != models.PaymentStatusPaid &&
			!order.CreatedAt.After(cutoff) &&
			!order.CleanupNoticeSent {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (f *fakeOrders) MarkCleanupNoticeSent(_ context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows int64
	for _, id := range ids {
		order, ok := f.byID[id]
		if !ok || order.CleanupNoticeSent {
			continue
		}
		order.CleanupNoticeSent = true
		sentAt := at
		order.CleanupNoticeSentAt = &sentAt
		rows++
	}
	return rows, nil
}

func (f *fakeOrders) ListAbandonedForDeletion(_ context.Context, noticeCutoff, ageCutoff time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, order := range f.byID {
		if f.deleted[order.ID] {
			continue
		}
		if order.OrderStatus == models.OrderStatusCheckedOut &&
			order.PaymentStatus != models.PaymentStatusPaid &&
			order.CleanupNoticeSent &&
			order.CleanupNoticeSentAt != nil &&
			!order.CleanupNoticeSentAt.After(noticeCutoff) &&
			!order.CreatedAt.After(ageCutoff) {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (f *fakeOrders) Delete(_ context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	if _, ok := f.byID[id]; !ok || f.deleted[id] {
		return 0, nil
	}
	f.deleted[id] = true
	return 1, nil
}

func (f *fakeOrders) DeleteByEmail(_ context.Context, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletedEmails = append(f.deletedEmails, email)
	var rows int64
	for id, order := range f.byID {
		if order.GuestEmail == email && !f.deleted[id] {
			f.deleted[id] = true
			rows++
		}
	}
	return rows, nil
}

func (f *fakeOrders) AnonymizeByEmail(_ context.Context, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anonymized = append(f.anonymized, email)
	var rows int64
	for id, order := range f.byID {
		if order.GuestEmail == email && !f.deleted[id] {
			order.GuestEmail = ""
			order.GuestPhone = ""
			rows++
		}
	}
	return rows, nil
}

func (f *fakeOrders) LatestPaidAt(_ context.Context, email string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for id, order := range f.byID {
		if f.deleted[id] || order.GuestEmail != email || order.PaymentStatus != models.PaymentStatusPaid || order.PaidAt == nil {
			continue
		}
		if latest == nil || order.PaidAt.After(*latest) {
			latest = order.PaidAt
		}
	}
	return latest, nil
}

// mockMailer records sends and can be told to fail, globally or for a
// single recipient.
type mockMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	err    error
	failTo string
}

type sentMail struct {
	to      string
	subject string
}

func (m *mockMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.failTo != "" && to == m.failTo {
		return errProviderDown
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject})
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockAuditor records audit entries.
type mockAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

type auditEntry struct {
	table     string
	operation string
	rows      int64
}

func (m *mockAuditor) Append(_ context.Context, table, operation string, rows int64, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, auditEntry{table: table, operation: operation, rows: rows})
	return nil
}

func (m *mockAuditor) count(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.operation == operation {
			n++
		}
	}
	return n
}

// fakeLedger is an in-memory deletion-request ledger with the same
// conditional semantics as the real one.
type fakeLedger struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.DeletionRequest
	created  int
}

func newFakeLedger(requests ...*models.DeletionRequest) *fakeLedger {
	f := &fakeLedger{requests: map[uuid.UUID]*models.DeletionRequest{}}
	for _, request := range requests {
		f.requests[request.ID] = request
	}
	return f
}

// Create enforces the one-pending-request-per-email invariant the real
// store backs with a partial unique index.
func (f *fakeLedger) Create(_ context.Context, email string, retentionEnd time.Time) (*models.DeletionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.requests {
		if existing.GuestEmail == email && existing.Status == models.DeletionStatusDeferredLegal {
			if retentionEnd.After(existing.RetentionEndDate) {
				existing.RetentionEndDate = retentionEnd
			}
			copied := *existing
			return &copied, nil
		}
	}
	f.created++
	request := &models.DeletionRequest{
		GuestEmail:       email,
		Status:           models.DeletionStatusDeferredLegal,
		RetentionEndDate: retentionEnd,
	}
	request.ID = uuid.New()
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeLedger) ListDueForNotice(_ context.Context, windowCutoff time.Time) ([]models.DeletionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeletionRequest
	for _, request := range f.requests {
		if request.Status == models.DeletionStatusDeferredLegal &&
			!request.RetentionEndDate.After(windowCutoff) &&
			!request.DeferredErasureNotified {
			out = append(out, *request)
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkNotified(_ context.Context, id uuid.UUID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok || request.DeferredErasureNotified {
		return 0, nil
	}
	request.DeferredErasureNotified = true
	notifiedAt := at
	request.DeferredErasureNotifiedAt = &notifiedAt
	return 1, nil
}

func (f *fakeLedger) ListDueForCompletion(_ context.Context, now, noticeCutoff time.Time) ([]models.DeletionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeletionRequest
	for _, request := range f.requests {
		if request.Status == models.DeletionStatusDeferredLegal &&
			request.DeferredErasureNotified &&
			request.DeferredErasureNotifiedAt != nil &&
			!request.DeferredErasureNotifiedAt.After(noticeCutoff) &&
			!request.RetentionEndDate.After(now) {
			out = append(out, *request)
		}
	}
	return out, nil
}

func (f *fakeLedger) Complete(_ context.Context, id uuid.UUID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok || request.Status != models.DeletionStatusDeferredLegal {
		return 0, nil
	}
	request.Status = models.DeletionStatusCompleted
	completedAt := at
	request.CompletedAt = &completedAt
	return 1, nil
}

// mockCarrier counts calls and scripts AWB failures.
type mockCarrier struct {
	mu          sync.Mutex
	createCalls int
	awbCalls    int
	awbFailures int
	labelCalls  int
	manifestErr error
	pickupErr   error
}

func (m *mockCarrier) CreateShipment(_ context.Context, _ CreateShipmentRequest) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	return &Shipment{ShipmentID: "SHP-1", CarrierOrderID: "SR-100"}, nil
}

func (m *mockCarrier) AssignAWB(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awbCalls++
	if m.awbCalls <= m.awbFailures {
		return "", &APIError{Status: 502, Body: "courier unavailable"}
	}
	return "AWB123456", nil
}

func (m *mockCarrier) GenerateLabel(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labelCalls++
	return "https://labels.example/SHP-1.pdf", nil
}

func (m *mockCarrier) SchedulePickup(_ context.Context, _ string) (*time.Time, error) {
	if m.pickupErr != nil {
		return nil, m.pickupErr
	}
	now := time.Now()
	return &now, nil
}

func (m *mockCarrier) GenerateManifest(_ context.Context, _ string) (string, error) {
	if m.manifestErr != nil {
		return "", m.manifestErr
	}
	return "https://manifests.example/SHP-1.pdf", nil
}

// fakeBlocks is an in-memory block record store.
type fakeBlocks struct {
	mu      sync.Mutex
	records map[string]*models.BlockRecord
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{records: map[string]*models.BlockRecord{}}
}

func (f *fakeBlocks) Get(_ context.Context, ip string) (*models.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[ip]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakeBlocks) Save(_ context.Context, record *models.BlockRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *record
	f.records[record.IP] = &copied
	return nil
}
