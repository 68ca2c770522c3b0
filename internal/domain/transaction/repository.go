package transaction

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for transaction persistence
type Repository interface {
	// Create creates a new transaction
	Create(ctx context.Context, txn *Transaction) error

	// GetByID retrieves a transaction by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByCheckoutRequestID retrieves an STK transaction by its
	// checkout request identifier
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error)

	// GetByConversationID retrieves a transaction by its gateway
	// conversation identifier
	GetByConversationID(ctx context.Context, conversationID string) (*Transaction, error)

	// GetByMpesaReceipt retrieves a settled transaction by its M-Pesa
	// receipt number
	GetByMpesaReceipt(ctx context.Context, receipt string) (*Transaction, error)

	// Update updates an existing transaction
	Update(ctx context.Context, txn *Transaction) error

	// List lists transactions with filters
	List(ctx context.Context, filter ListFilter) ([]*Transaction, error)
}

// ListFilter defines filters for listing transactions
type ListFilter struct {
	Operation *Operation
	Status    *Status
	Phone     *string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}
