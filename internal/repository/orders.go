package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// DiscontinuedOrder is a discontinued legacy order still lacking its
// explicit DISCONTINUE successor.
type DiscontinuedOrder struct {
	OrderID        int64
	DiscontinuedBy *int64
	Orderer        *int64
}

// DiscontinuationStats summarises the synthesised DISCONTINUE orders.
type DiscontinuationStats struct {
	Total int
	// Incomplete counts rows missing any of auto_expire_date, date_activated,
	// orderer, encounter_id, previous_order_id.
	Incomplete int
}

// OrdersRepository orders 表访问（升级期间）
type OrdersRepository interface {
	CountDiscontinued(ctx context.Context) (int, error)
	ListDiscontinuedWithoutStop(ctx context.Context) ([]DiscontinuedOrder, error)
	InsertDiscontinuation(ctx context.Context, o domain.DiscontinuationOrder) (int64, error)
	MarkStopped(ctx context.Context) (int64, error)
	DiscontinuationStats(ctx context.Context) (DiscontinuationStats, error)
	BackfillOrderActions(ctx context.Context) (int64, error)
	BackfillDateActivated(ctx context.Context) (int64, error)

	ListUncodedOrdererUsers(ctx context.Context) ([]int64, error)
	AssignOrderer(ctx context.Context, userID, providerID int64) (int64, error)
	CountWithoutOrderer(ctx context.Context) (int, error)
	AssignFallbackOrderer(ctx context.Context, providerID int64) (int64, error)
}

type SQLOrdersRepository struct {
	base
}

func NewOrdersRepository(q Querier, d Dialect) *SQLOrdersRepository {
	return &SQLOrdersRepository{base{q: q, d: d}}
}

var _ OrdersRepository = (*SQLOrdersRepository)(nil)

// CountDiscontinued counts legacy orders flagged discontinued.
func (r *SQLOrdersRepository) CountDiscontinued(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM orders WHERE discontinued = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count discontinued orders: %w", err)
	}
	return n, nil
}

func (r *SQLOrdersRepository) ListDiscontinuedWithoutStop(ctx context.Context) ([]DiscontinuedOrder, error) {
	rows, err := r.q.QueryContext(ctx, r.d.Rebind(`
		SELECT o.order_id, o.discontinued_by, o.orderer
		FROM orders o
		WHERE o.discontinued = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM orders d
			WHERE d.previous_order_id = o.order_id
			  AND d.order_action = ?
		  )
		ORDER BY o.order_id
	`), string(domain.OrderActionDiscontinue))
	if err != nil {
		return nil, fmt.Errorf("failed to list discontinued orders: %w", err)
	}
	defer rows.Close()

	var out []DiscontinuedOrder
	for rows.Next() {
		var (
			o       DiscontinuedOrder
			by      sql.NullInt64
			orderer sql.NullInt64
		)
		if err := rows.Scan(&o.OrderID, &by, &orderer); err != nil {
			return nil, fmt.Errorf("failed to scan discontinued order: %w", err)
		}
		o.DiscontinuedBy = nullInt64Ptr(by)
		o.Orderer = nullInt64Ptr(orderer)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discontinued orders: %w", err)
	}
	return out, nil
}

// InsertDiscontinuation copies the previous order into a DISCONTINUE order
// activated and expiring at the original stop date.
func (r *SQLOrdersRepository) InsertDiscontinuation(ctx context.Context, o domain.DiscontinuationOrder) (int64, error) {
	var id int64
	err := r.queryRow(ctx, `
		INSERT INTO orders (
			order_type_id, concept_id, patient_id, encounter_id, orderer,
			date_activated, auto_expire_date, discontinued, order_action,
			previous_order_id, order_reason, voided, date_created, uuid
		)
		SELECT
			o.order_type_id, o.concept_id, o.patient_id, o.encounter_id, CAST(? AS INTEGER),
			COALESCE(o.discontinued_date, o.auto_expire_date),
			COALESCE(o.discontinued_date, o.auto_expire_date),
			FALSE, CAST(? AS VARCHAR(50)),
			o.order_id, COALESCE(o.discontinued_reason, CAST(? AS INTEGER)), o.voided, CURRENT_TIMESTAMP,
			CAST(? AS VARCHAR(38))
		FROM orders o
		WHERE o.order_id = ?
		RETURNING order_id
	`, o.Orderer, string(domain.OrderActionDiscontinue), o.NoCauseReason, o.UUID, o.PreviousOrderID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert discontinuation for order_id=%d: %w", o.PreviousOrderID, err)
	}
	return id, nil
}

// MarkStopped sets date_stopped on discontinued orders that lack one.
func (r *SQLOrdersRepository) MarkStopped(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, `
		UPDATE orders
		SET date_stopped = COALESCE(discontinued_date, auto_expire_date)
		WHERE discontinued = TRUE AND date_stopped IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stopped orders: %w", err)
	}
	return n, nil
}

func (r *SQLOrdersRepository) DiscontinuationStats(ctx context.Context) (DiscontinuationStats, error) {
	var (
		stats      DiscontinuationStats
		incomplete sql.NullInt64
	)
	err := r.queryRow(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN auto_expire_date IS NULL
			           OR date_activated IS NULL
			           OR orderer IS NULL
			           OR encounter_id IS NULL
			           OR previous_order_id IS NULL
			         THEN 1 ELSE 0 END)
		FROM orders
		WHERE order_action = ?
	`, string(domain.OrderActionDiscontinue)).Scan(&stats.Total, &incomplete)
	if err != nil {
		return stats, fmt.Errorf("failed to verify discontinuation orders: %w", err)
	}
	stats.Incomplete = int(incomplete.Int64)
	return stats, nil
}

// BackfillOrderActions marks every pre-existing order as a NEW action.
func (r *SQLOrdersRepository) BackfillOrderActions(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, `UPDATE orders SET order_action = ? WHERE order_action IS NULL`,
		string(domain.OrderActionNew))
	if err != nil {
		return 0, fmt.Errorf("failed to backfill order_action: %w", err)
	}
	return n, nil
}

func (r *SQLOrdersRepository) BackfillDateActivated(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, `
		UPDATE orders
		SET date_activated = COALESCE(start_date, date_created)
		WHERE date_activated IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill date_activated: %w", err)
	}
	return n, nil
}

// ListUncodedOrdererUsers lists the legacy user ids still waiting for a
// provider reference.
func (r *SQLOrdersRepository) ListUncodedOrdererUsers(ctx context.Context) ([]int64, error) {
	ids, err := r.queryInt64s(ctx, `
		SELECT DISTINCT legacy_orderer
		FROM orders
		WHERE orderer IS NULL AND legacy_orderer IS NOT NULL
		ORDER BY legacy_orderer
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy orderers: %w", err)
	}
	return ids, nil
}

func (r *SQLOrdersRepository) AssignOrderer(ctx context.Context, userID, providerID int64) (int64, error) {
	n, err := r.exec(ctx, `
		UPDATE orders SET orderer = ?
		WHERE legacy_orderer = ? AND orderer IS NULL
	`, providerID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to assign orderer for user_id=%d: %w", userID, err)
	}
	return n, nil
}

// CountWithoutOrderer counts orders that never had an orderer.
func (r *SQLOrdersRepository) CountWithoutOrderer(ctx context.Context) (int, error) {
	var n int
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE orderer IS NULL AND legacy_orderer IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders without orderer: %w", err)
	}
	return n, nil
}

func (r *SQLOrdersRepository) AssignFallbackOrderer(ctx context.Context, providerID int64) (int64, error) {
	n, err := r.exec(ctx, `
		UPDATE orders SET orderer = ?
		WHERE orderer IS NULL AND legacy_orderer IS NULL
	`, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to assign fallback orderer: %w", err)
	}
	return n, nil
}
