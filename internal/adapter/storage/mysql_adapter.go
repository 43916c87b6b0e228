package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/outbox"
	"github.com/rl1809/bookstore/internal/port"
)

const (
	errDuplicateEntry = 1062
	errDeadlock       = 1213

	maxTxAttempts = 3
)

// txOptions runs every WithinTx at READ COMMITTED. Guards take row locks or
// use conditional updates, and plain reads taken after a lock wait must see
// what the lock holder committed, such as the line items summed into a cart
// total.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// OpenMySQL builds a pooled handle from cfg. parseTime is always on since
// every timestamp column is scanned into time.Time.
func OpenMySQL(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'customer',
		UNIQUE KEY uq_customers_email (email)
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		item_key VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		quantity_in_stock INT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_items_stock CHECK (quantity_in_stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		total DECIMAL(14,2) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		placed_at DATETIME(6) NULL,
		open_customer_id BIGINT AS (CASE WHEN status = 'open' THEN customer_id END) STORED,
		UNIQUE KEY uq_orders_open_customer (open_customer_id),
		KEY idx_orders_customer (customer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		item_key VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		price_at_add DECIMAL(12,2) NOT NULL,
		UNIQUE KEY uq_order_items_order_item (order_id, item_key)
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		item_key VARCHAR(64) NOT NULL,
		customer_id BIGINT NOT NULL,
		rating TINYINT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_reviews_item (item_key),
		UNIQUE KEY uq_reviews_customer_item (customer_id, item_key)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		aggregate_type VARCHAR(64) NOT NULL,
		aggregate_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		payload BLOB NOT NULL,
		headers JSON NULL,
		created_at DATETIME(6) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		relay_id VARCHAR(64) NULL,
		locked_until DATETIME(6) NULL,
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		KEY idx_outbox_status (status, id)
	)`,
}

type MySQLAdapter struct {
	db  *sql.DB
	log *zap.Logger
}

func NewMySQLAdapter(db *sql.DB, log *zap.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, log: log}
}

// Migrate creates any missing tables.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithinTx retries the whole transaction when MySQL picks it as a deadlock
// victim, so fn must be safe to run more than once.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if !isMySQLError(err, errDeadlock) {
			return err
		}
		m.log.Warn("transaction deadlock, retrying", zap.Int("attempt", attempt))
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) (err error) {
	tx, err := m.db.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, queries{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) View(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	return fn(ctx, queries{q: m.db})
}

func (m *MySQLAdapter) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var (
		events []outbox.Event
		err    error
	)
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		events, err = m.lockBatchTx(ctx, relayID, batchSize, lease)
		if !isMySQLError(err, errDeadlock) {
			break
		}
	}
	return events, err
}

func (m *MySQLAdapter) lockBatchTx(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, retry_count
		FROM outbox
		WHERE status = 'pending' OR (status = 'in_progress' AND locked_until < ?)
		ORDER BY id
		LIMIT ?
		FOR UPDATE SKIP LOCKED`, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var (
			ev      outbox.Event
			headers []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type,
			&ev.Payload, &headers, &ev.CreatedAt, &ev.RetryCount); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &ev.Headers); err != nil {
				return nil, fmt.Errorf("decode headers: %w", err)
			}
		}
		ev.Status = outbox.StatusInProgress
		ev.RelayID = relayID
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]any, 0, len(events)+2)
	ids = append(ids, relayID, now.Add(lease))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE outbox SET status = 'in_progress', relay_id = ?, locked_until = ?
		WHERE id IN (`+placeholders(len(events))+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("lease outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (m *MySQLAdapter) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := m.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', locked_until = NULL
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed relies on MySQL evaluating SET assignments left to right, so
// the status test sees the incremented retry_count.
func (m *MySQLAdapter) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1,
			last_error = ?,
			status = IF(retry_count >= ?, 'failed', 'pending'),
			locked_until = NULL
		WHERE id = ?`, errMsg, outbox.MaxRetries, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func translateWriteErr(err error, what string) error {
	if isMySQLError(err, errDuplicateEntry) {
		return port.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", what, err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs against either the pool or an open transaction.
type queries struct {
	q execer
}

const itemColumns = `item_key, title, price, quantity_in_stock, version, updated_at`

func scanItem(row *sql.Row) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.Key, &it.Title, &it.Price, &it.Stock, &it.Version, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &it, nil
}

func (q queries) GetItem(ctx context.Context, key string) (*domain.Item, error) {
	return scanItem(q.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE item_key = ?`, key))
}

func (q queries) LockItem(ctx context.Context, key string) (*domain.Item, error) {
	return scanItem(q.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE item_key = ? FOR UPDATE`, key))
}

func (q queries) PutItem(ctx context.Context, item domain.Item) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO items (item_key, title, price, quantity_in_stock, version, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			price = VALUES(price),
			quantity_in_stock = VALUES(quantity_in_stock),
			version = version + 1,
			updated_at = VALUES(updated_at)`,
		item.Key, item.Title, item.Price, item.Stock, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (q queries) DebitStock(ctx context.Context, key string, quantity int) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE items
		SET quantity_in_stock = quantity_in_stock - ?, version = version + 1, updated_at = ?
		WHERE item_key = ? AND quantity_in_stock >= ?`,
		quantity, time.Now().UTC(), key, quantity)
	if err != nil {
		return false, fmt.Errorf("debit stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (q queries) RestockItem(ctx context.Context, key string, quantity int) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE items
		SET quantity_in_stock = quantity_in_stock + ?, version = version + 1, updated_at = ?
		WHERE item_key = ?`,
		quantity, time.Now().UTC(), key)
	if err != nil {
		return false, fmt.Errorf("restock: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (q queries) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, email, role FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &c, nil
}

func (q queries) CreateCustomer(ctx context.Context, c domain.Customer) (int64, error) {
	result, err := q.q.ExecContext(ctx,
		`INSERT INTO customers (name, email, role) VALUES (?, ?, ?)`,
		c.Name, c.Email, c.Role)
	if err != nil {
		return 0, translateWriteErr(err, "insert customer")
	}
	return result.LastInsertId()
}

const orderColumns = `id, customer_id, status, total, created_at, placed_at`

func scanOrder(s interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o        domain.Order
		placedAt sql.NullTime
	)
	if err := s.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.CreatedAt, &placedAt); err != nil {
		return nil, err
	}
	if placedAt.Valid {
		o.PlacedAt = &placedAt.Time
	}
	return &o, nil
}

func (q queries) queryOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	o, err := scanOrder(q.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

func (q queries) FindOpenOrder(ctx context.Context, customerID int64) (*domain.Order, error) {
	return q.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE open_customer_id = ? FOR UPDATE`, customerID)
}

func (q queries) CreateOpenOrder(ctx context.Context, customerID int64, createdAt time.Time) (*domain.Order, error) {
	result, err := q.q.ExecContext(ctx,
		`INSERT INTO orders (customer_id, status, total, created_at) VALUES (?, 'open', 0, ?)`,
		customerID, createdAt)
	if err != nil {
		return nil, translateWriteErr(err, "insert order")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:         id,
		CustomerID: customerID,
		Status:     domain.OrderStatusOpen,
		Total:      decimal.Zero,
		CreatedAt:  createdAt,
	}, nil
}

func (q queries) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return q.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
}

func (q queries) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return q.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, orderID)
}

func (q queries) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ? ORDER BY id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (q queries) SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := q.q.ExecContext(ctx, `UPDATE orders SET total = ? WHERE id = ?`, total, orderID)
	if err != nil {
		return fmt.Errorf("set order total: %w", err)
	}
	return nil
}

func (q queries) MarkOrderPlaced(ctx context.Context, orderID int64, placedAt time.Time) (bool, error) {
	result, err := q.q.ExecContext(ctx,
		`UPDATE orders SET status = 'placed', placed_at = ? WHERE id = ? AND status = 'open'`,
		placedAt, orderID)
	if err != nil {
		return false, fmt.Errorf("mark placed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

const lineColumns = `oi.id, oi.order_id, oi.item_key, COALESCE(i.title, ''), oi.quantity, oi.price_at_add`

const lineFrom = ` FROM order_items oi LEFT JOIN items i ON i.item_key = oi.item_key`

func scanLine(s interface{ Scan(...any) error }) (*domain.LineItem, error) {
	var li domain.LineItem
	if err := s.Scan(&li.ID, &li.OrderID, &li.ItemKey, &li.Title, &li.Quantity, &li.PriceAtAdd); err != nil {
		return nil, err
	}
	return &li, nil
}

func (q queries) queryLine(ctx context.Context, query string, args ...any) (*domain.LineItem, error) {
	li, err := scanLine(q.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query line item: %w", err)
	}
	return li, nil
}

func (q queries) GetLineItem(ctx context.Context, lineItemID int64) (*domain.LineItem, error) {
	return q.queryLine(ctx, `SELECT `+lineColumns+lineFrom+` WHERE oi.id = ?`, lineItemID)
}

func (q queries) FindLineItem(ctx context.Context, orderID int64, itemKey string) (*domain.LineItem, error) {
	return q.queryLine(ctx,
		`SELECT `+lineColumns+lineFrom+` WHERE oi.order_id = ? AND oi.item_key = ?`, orderID, itemKey)
}

func (q queries) InsertLineItem(ctx context.Context, li domain.LineItem) (int64, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO order_items (order_id, item_key, quantity, price_at_add)
		VALUES (?, ?, ?, ?)`,
		li.OrderID, li.ItemKey, li.Quantity, li.PriceAtAdd)
	if err != nil {
		return 0, translateWriteErr(err, "insert line item")
	}
	return result.LastInsertId()
}

func (q queries) IncrementLineItem(ctx context.Context, lineItemID int64, delta int) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE order_items SET quantity = quantity + ? WHERE id = ?`, delta, lineItemID)
	if err != nil {
		return fmt.Errorf("increment line item: %w", err)
	}
	return nil
}

func (q queries) DeleteLineItem(ctx context.Context, lineItemID int64) (bool, error) {
	result, err := q.q.ExecContext(ctx, `DELETE FROM order_items WHERE id = ?`, lineItemID)
	if err != nil {
		return false, fmt.Errorf("delete line item: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (q queries) ListLineItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+lineColumns+lineFrom+` WHERE oi.order_id = ? ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		li, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out = append(out, *li)
	}
	return out, rows.Err()
}

func (q queries) SumLineItems(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity * price_at_add), 0) FROM order_items WHERE order_id = ?`, orderID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum line items: %w", err)
	}
	return total, nil
}

func (q queries) ReservedQuantity(ctx context.Context, itemKey string, excludeOrderID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.item_key = ? AND o.status = 'open' AND o.id <> ?`,
		itemKey, excludeOrderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reserved quantity: %w", err)
	}
	return n, nil
}

func (q queries) InsertReview(ctx context.Context, r domain.Review) (int64, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO reviews (item_key, customer_id, rating, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ItemKey, r.CustomerID, r.Rating, r.Content, r.CreatedAt)
	if err != nil {
		return 0, translateWriteErr(err, "insert review")
	}
	return result.LastInsertId()
}

const reviewColumns = `r.id, r.item_key, r.customer_id, COALESCE(c.name, ''), r.rating, r.content, r.created_at`

const reviewFrom = ` FROM reviews r LEFT JOIN customers c ON c.id = r.customer_id`

func scanReview(s interface{ Scan(...any) error }) (*domain.Review, error) {
	var r domain.Review
	if err := s.Scan(&r.ID, &r.ItemKey, &r.CustomerID, &r.CustomerName, &r.Rating, &r.Content, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (q queries) queryReview(ctx context.Context, query string, args ...any) (*domain.Review, error) {
	r, err := scanReview(q.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query review: %w", err)
	}
	return r, nil
}

func (q queries) GetReview(ctx context.Context, reviewID int64) (*domain.Review, error) {
	return q.queryReview(ctx, `SELECT `+reviewColumns+reviewFrom+` WHERE r.id = ?`, reviewID)
}

func (q queries) FindReview(ctx context.Context, customerID int64, itemKey string) (*domain.Review, error) {
	return q.queryReview(ctx,
		`SELECT `+reviewColumns+reviewFrom+` WHERE r.customer_id = ? AND r.item_key = ? LIMIT 1`,
		customerID, itemKey)
}

func (q queries) UpdateReview(ctx context.Context, r domain.Review) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE reviews SET rating = ?, content = ? WHERE id = ?`, r.Rating, r.Content, r.ID)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return nil
}

func (q queries) DeleteReview(ctx context.Context, reviewID int64) (bool, error) {
	result, err := q.q.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, reviewID)
	if err != nil {
		return false, fmt.Errorf("delete review: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (q queries) ListReviews(ctx context.Context, itemKey string) ([]domain.Review, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+reviewColumns+reviewFrom+` WHERE r.item_key = ? ORDER BY r.created_at DESC, r.id DESC`, itemKey)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (q queries) RatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, error) {
	var s domain.RatingSummary
	err := q.q.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE item_key = ?`, itemKey,
	).Scan(&s.Average, &s.Count)
	if err != nil {
		return domain.RatingSummary{}, fmt.Errorf("rating summary: %w", err)
	}
	return s, nil
}

func (q queries) HasPurchased(ctx context.Context, customerID int64, itemKey string) (bool, error) {
	var ok bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.customer_id = ? AND o.status = 'placed' AND oi.item_key = ?
		)`, customerID, itemKey).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has purchased: %w", err)
	}
	return ok, nil
}

func (q queries) AppendEvent(ctx context.Context, ev outbox.Event) error {
	// JSON columns reject binary-charset parameters, so headers go as text.
	var headers sql.NullString
	if len(ev.Headers) > 0 {
		raw, err := json.Marshal(ev.Headers)
		if err != nil {
			return fmt.Errorf("encode headers: %w", err)
		}
		headers = sql.NullString{String: string(raw), Valid: true}
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, headers, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, headers, createdAt)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}
