package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at": "created_at",
	"amount":     "amount",
	"status":     "status",
	"updated_at": "updated_at",
}

// TransactionRepository implements transaction.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, operation, status,
	merchant_request_id, checkout_request_id, conversation_id, originator_conversation_id,
	phone, amount, currency, mpesa_receipt, result_code, result_desc,
	metadata, created_at, updated_at, completed_at`

// Create inserts a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	amountStr := centsToNumericString(t.Amount.ValueCents)

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transactions
		 (id, operation, status,
		  merchant_request_id, checkout_request_id, conversation_id, originator_conversation_id,
		  phone, amount, currency, mpesa_receipt, result_code, result_desc,
		  metadata, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, string(t.Operation), string(t.Status),
		t.MerchantRequestID, t.CheckoutRequestID, t.ConversationID, t.OriginatorConversationID,
		t.Phone, amountStr, t.Amount.Currency, t.MpesaReceipt, t.ResultCode, t.ResultDesc,
		metadata, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// GetByCheckoutRequestID retrieves an STK transaction by its checkout
// request identifier.
func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE checkout_request_id = $1`, checkoutRequestID))
}

// GetByConversationID retrieves a transaction by its gateway
// conversation identifier.
func (r *TransactionRepository) GetByConversationID(ctx context.Context, conversationID string) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE conversation_id = $1`, conversationID))
}

// GetByMpesaReceipt retrieves a settled transaction by its M-Pesa
// receipt number.
func (r *TransactionRepository) GetByMpesaReceipt(ctx context.Context, receipt string) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE mpesa_receipt = $1`, receipt))
}

// Update updates an existing transaction.
func (r *TransactionRepository) Update(ctx context.Context, t *transaction.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE transactions SET
		  status=$1, merchant_request_id=$2, checkout_request_id=$3,
		  conversation_id=$4, originator_conversation_id=$5,
		  mpesa_receipt=$6, result_code=$7, result_desc=$8,
		  metadata=$9, updated_at=$10, completed_at=$11
		 WHERE id=$12`,
		string(t.Status), t.MerchantRequestID, t.CheckoutRequestID,
		t.ConversationID, t.OriginatorConversationID,
		t.MpesaReceipt, t.ResultCode, t.ResultDesc,
		metadata, t.UpdatedAt, t.CompletedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrTransactionNotFound
	}
	return nil
}

// List lists transactions with optional filters.
func (r *TransactionRepository) List(ctx context.Context, f transaction.ListFilter) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Operation != nil {
		query += fmt.Sprintf(" AND operation = $%d", argIdx)
		args = append(args, string(*f.Operation))
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Phone != nil {
		query += fmt.Sprintf(" AND phone = $%d", argIdx)
		args = append(args, *f.Phone)
		argIdx++
	}

	// Strict whitelist for sort column
	sortBy := "created_at"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// --- scanning helpers ---

// scanTransaction scans a transaction from any source implementing the
// scanner interface.
func (r *TransactionRepository) scanTransaction(s scanner) (*transaction.Transaction, error) {
	t := &transaction.Transaction{Metadata: make(map[string]any)}
	var (
		operation string
		status    string
		amountStr string
		metadata  []byte
	)
	err := s.Scan(
		&t.ID, &operation, &status,
		&t.MerchantRequestID, &t.CheckoutRequestID, &t.ConversationID, &t.OriginatorConversationID,
		&t.Phone, &amountStr, &t.Amount.Currency, &t.MpesaReceipt, &t.ResultCode, &t.ResultDesc,
		&metadata, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Amount.ValueCents = cents

	t.Operation = transaction.Operation(operation)
	t.Status = transaction.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}
	return t, nil
}
