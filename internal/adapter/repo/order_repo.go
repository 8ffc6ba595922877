package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
	"stickerpack/internal/sqlinline"
)

// OrderRepositoryPG implements domain.OrderRepository.
type OrderRepositoryPG struct {
	db infra.SQLExecutor
}

func NewOrderRepository(db infra.SQLExecutor) *OrderRepositoryPG {
	return &OrderRepositoryPG{db: db}
}

func (r *OrderRepositoryPG) GetByJob(ctx context.Context, jobID string) (*domain.Order, error) {
	if !validID(jobID) {
		return nil, domain.ErrNotFound
	}
	order, err := scanOrder(r.db.QueryRow(ctx, sqlinline.QSelectOrderByJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *OrderRepositoryPG) UpsertPending(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	currency := order.Currency
	if currency == "" {
		currency = "USD"
	}
	out, err := scanOrder(r.db.QueryRow(ctx, sqlinline.QUpsertPendingOrder, order.JobID, order.AmountCents, currency))
	if err != nil {
		return nil, fmt.Errorf("upsert pending order: %w", err)
	}
	return out, nil
}

func (r *OrderRepositoryPG) MarkPaid(ctx context.Context, jobID, providerOrderID string, amountCents int, currency string) (*domain.Order, error) {
	out, err := scanOrder(r.db.QueryRow(ctx, sqlinline.QMarkOrderPaid, jobID, amountCents, currency, providerOrderID))
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var status string
	if err := row.Scan(
		&o.ID,
		&o.JobID,
		&status,
		&o.AmountCents,
		&o.Currency,
		&o.ProviderOrderID,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

var _ domain.OrderRepository = (*OrderRepositoryPG)(nil)
