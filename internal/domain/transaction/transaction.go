package transaction

import (
	"fmt"
	"time"

	"github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/google/uuid"
)

// Operation identifies which gateway request created the transaction.
type Operation string

const (
	OpSTKPush           Operation = "stk_push"
	OpC2B               Operation = "c2b"
	OpB2C               Operation = "b2c"
	OpB2B               Operation = "b2b"
	OpAccountBalance    Operation = "account_balance"
	OpTransactionStatus Operation = "transaction_status"
	OpReversal          Operation = "reversal"
)

// Status represents the transaction status in the state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReversed  Status = "reversed"
)

// Transaction tracks a gateway request from initiation through its
// asynchronous result callback.
type Transaction struct {
	ID        uuid.UUID
	Operation Operation
	Status    Status

	// Correlation identifiers handed back by the gateway when the
	// request is accepted. STK uses the merchant/checkout pair, the
	// result-style operations use the conversation pair.
	MerchantRequestID        *string
	CheckoutRequestID        *string
	ConversationID           *string
	OriginatorConversationID *string

	Phone  *string
	Amount Amount

	// Receipt and result fields arrive with the callback.
	MpesaReceipt *string
	ResultCode   *int
	ResultDesc   *string

	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Amount represents a monetary amount in the smallest currency unit.
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// New creates a pending transaction for an initiated gateway request.
func New(op Operation, phone *string, amount Amount) (*Transaction, error) {
	if op == "" {
		return nil, errors.NewValidation("operation cannot be empty")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Transaction{
		ID:        uuid.New(),
		Operation: op,
		Status:    StatusPending,
		Phone:     phone,
		Amount:    amount,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanTransitionTo checks if the transaction can move to the given status.
func (t *Transaction) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {
			StatusCompleted,
			StatusFailed,
		},
		StatusCompleted: {
			StatusReversed,
		},
		StatusFailed:   {}, // Terminal state
		StatusReversed: {}, // Terminal state
	}

	allowed, exists := transitions[t.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the transaction to a new status.
func (t *Transaction) TransitionTo(newStatus Status) error {
	if !t.CanTransitionTo(newStatus) {
		return fmt.Errorf("cannot transition from %s to %s: %w",
			t.Status, newStatus, errors.ErrInvalidStateTransition)
	}

	t.Status = newStatus
	t.UpdatedAt = time.Now()

	if newStatus != StatusPending {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

// MarkCompleted records a successful result callback.
func (t *Transaction) MarkCompleted(receipt *string, resultCode int, resultDesc string) error {
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	t.MpesaReceipt = receipt
	t.ResultCode = &resultCode
	t.ResultDesc = &resultDesc
	return nil
}

// MarkFailed records a failed result callback.
func (t *Transaction) MarkFailed(resultCode int, resultDesc string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.ResultCode = &resultCode
	t.ResultDesc = &resultDesc
	return nil
}

// MarkReversed records a successful reversal of a completed transaction.
func (t *Transaction) MarkReversed() error {
	return t.TransitionTo(StatusReversed)
}

// IsTerminal checks if the transaction is in a terminal state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusFailed || t.Status == StatusReversed
}

// SetSTKCorrelation stores the identifiers returned by an accepted STK
// push request.
func (t *Transaction) SetSTKCorrelation(merchantRequestID, checkoutRequestID string) {
	t.MerchantRequestID = &merchantRequestID
	t.CheckoutRequestID = &checkoutRequestID
	t.UpdatedAt = time.Now()
}

// SetConversation stores the identifiers returned by an accepted
// result-style request (B2C, B2B, balance, status, reversal).
func (t *Transaction) SetConversation(conversationID, originatorConversationID string) {
	t.ConversationID = &conversationID
	t.OriginatorConversationID = &originatorConversationID
	t.UpdatedAt = time.Now()
}

func validateAmount(amount Amount) error {
	if amount.ValueCents < 0 {
		return errors.NewValidation("amount must not be negative")
	}
	if amount.Currency == "" {
		return errors.NewValidation("currency cannot be empty")
	}
	if len(amount.Currency) != 3 {
		return errors.NewValidation("currency must be a 3-letter ISO code")
	}
	return nil
}
