package testutil

import (
	"context"
	"sync"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/google/uuid"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is a mock implementation of transaction.Repository.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*transaction.Transaction

	CreateFunc                 func(ctx context.Context, txn *transaction.Transaction) error
	GetByIDFunc                func(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	GetByCheckoutRequestIDFunc func(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error)
	GetByConversationIDFunc    func(ctx context.Context, conversationID string) (*transaction.Transaction, error)
	GetByMpesaReceiptFunc      func(ctx context.Context, receipt string) (*transaction.Transaction, error)
	UpdateFunc                 func(ctx context.Context, txn *transaction.Transaction) error
	ListFunc                   func(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error)
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[uuid.UUID]*transaction.Transaction),
	}
}

// Add pre-populates the mock with a transaction.
func (m *MockTransactionRepository) Add(txn *transaction.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[txn.ID] = txn
}

// Get returns the stored transaction (test helper, no context needed).
func (m *MockTransactionRepository) Get(id uuid.UUID) *transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[id]
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *transaction.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, txn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transactions {
		if sameCorrelation(existing.CheckoutRequestID, txn.CheckoutRequestID) ||
			sameCorrelation(existing.ConversationID, txn.ConversationID) ||
			sameCorrelation(existing.MpesaReceipt, txn.MpesaReceipt) {
			return domainErrors.ErrDuplicateTransaction
		}
	}
	m.transactions[txn.ID] = txn
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return txn, nil
}

func (m *MockTransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error) {
	if m.GetByCheckoutRequestIDFunc != nil {
		return m.GetByCheckoutRequestIDFunc(ctx, checkoutRequestID)
	}
	return m.find(func(txn *transaction.Transaction) bool {
		return txn.CheckoutRequestID != nil && *txn.CheckoutRequestID == checkoutRequestID
	})
}

func (m *MockTransactionRepository) GetByConversationID(ctx context.Context, conversationID string) (*transaction.Transaction, error) {
	if m.GetByConversationIDFunc != nil {
		return m.GetByConversationIDFunc(ctx, conversationID)
	}
	return m.find(func(txn *transaction.Transaction) bool {
		return txn.ConversationID != nil && *txn.ConversationID == conversationID
	})
}

func (m *MockTransactionRepository) GetByMpesaReceipt(ctx context.Context, receipt string) (*transaction.Transaction, error) {
	if m.GetByMpesaReceiptFunc != nil {
		return m.GetByMpesaReceiptFunc(ctx, receipt)
	}
	return m.find(func(txn *transaction.Transaction) bool {
		return txn.MpesaReceipt != nil && *txn.MpesaReceipt == receipt
	})
}

func (m *MockTransactionRepository) Update(ctx context.Context, txn *transaction.Transaction) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, txn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[txn.ID]; !ok {
		return domainErrors.ErrTransactionNotFound
	}
	m.transactions[txn.ID] = txn
	return nil
}

func (m *MockTransactionRepository) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*transaction.Transaction, 0, len(m.transactions))
	for _, txn := range m.transactions {
		if filter.Operation != nil && txn.Operation != *filter.Operation {
			continue
		}
		if filter.Status != nil && txn.Status != *filter.Status {
			continue
		}
		if filter.Phone != nil && (txn.Phone == nil || *txn.Phone != *filter.Phone) {
			continue
		}
		result = append(result, txn)
	}
	return result, nil
}

func (m *MockTransactionRepository) find(match func(*transaction.Transaction) bool) (*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.transactions {
		if match(txn) {
			return txn, nil
		}
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func sameCorrelation(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// --- Callback Publisher Mock ---

// Published records one outcome appended to the settlement stream.
type Published struct {
	Kind    string
	Key     string
	Outcome any
}

// MockPublisher records published callback outcomes.
type MockPublisher struct {
	mu        sync.Mutex
	published []Published

	PublishCallbackFunc func(ctx context.Context, kind, key string, outcome any) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishCallback(ctx context.Context, kind, key string, outcome any) error {
	if m.PublishCallbackFunc != nil {
		return m.PublishCallbackFunc(ctx, kind, key, outcome)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Published{Kind: kind, Key: key, Outcome: outcome})
	return nil
}

// Published returns the recorded messages.
func (m *MockPublisher) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

// --- Dedupe Store Mock ---

// MockDedupeStore remembers seen keys in memory.
type MockDedupeStore struct {
	mu   sync.Mutex
	seen map[string]bool

	SeenFunc   func(ctx context.Context, key string) (bool, error)
	ForgetFunc func(ctx context.Context, key string) error
}

func NewMockDedupeStore() *MockDedupeStore {
	return &MockDedupeStore{seen: make(map[string]bool)}
}

func (m *MockDedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	if m.SeenFunc != nil {
		return m.SeenFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *MockDedupeStore) Forget(ctx context.Context, key string) error {
	if m.ForgetFunc != nil {
		return m.ForgetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// Has reports whether a key is currently claimed (test helper).
func (m *MockDedupeStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[key]
}

// MockTxManager runs the unit of work directly, without a database
// transaction. Set WithTransactionFunc to inject commit failures.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}
