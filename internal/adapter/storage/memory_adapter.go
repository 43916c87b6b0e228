package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/outbox"
	"github.com/rl1809/bookstore/internal/port"
)

// MemoryAdapter is an in-process Store. Transactions are serialized by a
// single mutex and run against a copy of the data, which replaces the live
// data only on commit.
type MemoryAdapter struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	items     map[string]domain.Item
	customers map[int64]domain.Customer
	orders    map[int64]domain.Order
	lines     map[int64]domain.LineItem
	reviews   map[int64]domain.Review
	events    []outbox.Event

	nextCustomer int64
	nextOrder    int64
	nextLine     int64
	nextReview   int64
	nextEvent    int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: &memData{
		items:     make(map[string]domain.Item),
		customers: make(map[int64]domain.Customer),
		orders:    make(map[int64]domain.Order),
		lines:     make(map[int64]domain.LineItem),
		reviews:   make(map[int64]domain.Review),
	}}
}

func (d *memData) clone() *memData {
	c := *d
	c.items = maps.Clone(d.items)
	c.customers = maps.Clone(d.customers)
	c.orders = maps.Clone(d.orders)
	c.lines = maps.Clone(d.lines)
	c.reviews = maps.Clone(d.reviews)
	c.events = slices.Clone(d.events)
	return &c
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(ctx, &memQueries{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *MemoryAdapter) View(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memQueries{d: m.data})
}

// LockBatch, MarkSent and MarkFailed make the adapter an outbox.Store.
func (m *MemoryAdapter) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []outbox.Event
	for i := range m.data.events {
		if len(out) == batchSize {
			break
		}
		ev := &m.data.events[i]
		if ev.Status != outbox.StatusPending {
			continue
		}
		ev.Status = outbox.StatusInProgress
		ev.RelayID = relayID
		out = append(out, *ev)
	}
	return out, nil
}

func (m *MemoryAdapter) MarkSent(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.events {
		if slices.Contains(ids, m.data.events[i].ID) {
			m.data.events[i].Status = outbox.StatusSent
		}
	}
	return nil
}

func (m *MemoryAdapter) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.events {
		ev := &m.data.events[i]
		if ev.ID != id {
			continue
		}
		ev.RetryCount++
		ev.LastError = &errMsg
		ev.Status = outbox.StatusPending
		if ev.RetryCount >= outbox.MaxRetries {
			ev.Status = outbox.StatusFailed
		}
	}
	return nil
}

// Events returns a copy of the outbox.
func (m *MemoryAdapter) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data.events)
}

type memQueries struct {
	d *memData
}

func (q *memQueries) GetItem(ctx context.Context, key string) (*domain.Item, error) {
	it, ok := q.d.items[key]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (q *memQueries) LockItem(ctx context.Context, key string) (*domain.Item, error) {
	return q.GetItem(ctx, key)
}

func (q *memQueries) PutItem(ctx context.Context, item domain.Item) error {
	if cur, ok := q.d.items[item.Key]; ok {
		item.Version = cur.Version + 1
	}
	item.UpdatedAt = time.Now().UTC()
	q.d.items[item.Key] = item
	return nil
}

func (q *memQueries) DebitStock(ctx context.Context, key string, quantity int) (bool, error) {
	it, ok := q.d.items[key]
	if !ok || it.Stock < quantity {
		return false, nil
	}
	it.Stock -= quantity
	it.Version++
	it.UpdatedAt = time.Now().UTC()
	q.d.items[key] = it
	return true, nil
}

func (q *memQueries) RestockItem(ctx context.Context, key string, quantity int) (bool, error) {
	it, ok := q.d.items[key]
	if !ok {
		return false, nil
	}
	it.Stock += quantity
	it.Version++
	it.UpdatedAt = time.Now().UTC()
	q.d.items[key] = it
	return true, nil
}

func (q *memQueries) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, ok := q.d.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (q *memQueries) CreateCustomer(ctx context.Context, c domain.Customer) (int64, error) {
	for _, existing := range q.d.customers {
		if existing.Email == c.Email {
			return 0, port.ErrDuplicate
		}
	}
	q.d.nextCustomer++
	c.ID = q.d.nextCustomer
	q.d.customers[c.ID] = c
	return c.ID, nil
}

func (q *memQueries) FindOpenOrder(ctx context.Context, customerID int64) (*domain.Order, error) {
	for _, o := range q.d.orders {
		if o.CustomerID == customerID && o.IsOpen() {
			return &o, nil
		}
	}
	return nil, nil
}

func (q *memQueries) CreateOpenOrder(ctx context.Context, customerID int64, createdAt time.Time) (*domain.Order, error) {
	if existing, _ := q.FindOpenOrder(ctx, customerID); existing != nil {
		return nil, port.ErrDuplicate
	}
	q.d.nextOrder++
	o := domain.Order{
		ID:         q.d.nextOrder,
		CustomerID: customerID,
		Status:     domain.OrderStatusOpen,
		Total:      decimal.Zero,
		CreatedAt:  createdAt,
	}
	q.d.orders[o.ID] = o
	return &o, nil
}

func (q *memQueries) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, ok := q.d.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (q *memQueries) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return q.GetOrder(ctx, orderID)
}

func (q *memQueries) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range q.d.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return int(b.ID - a.ID) })
	return out, nil
}

func (q *memQueries) SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	o, ok := q.d.orders[orderID]
	if !ok {
		return nil
	}
	o.Total = total
	q.d.orders[orderID] = o
	return nil
}

func (q *memQueries) MarkOrderPlaced(ctx context.Context, orderID int64, placedAt time.Time) (bool, error) {
	o, ok := q.d.orders[orderID]
	if !ok || !o.IsOpen() {
		return false, nil
	}
	o.Status = domain.OrderStatusPlaced
	o.PlacedAt = &placedAt
	q.d.orders[orderID] = o
	return true, nil
}

func (q *memQueries) GetLineItem(ctx context.Context, lineItemID int64) (*domain.LineItem, error) {
	li, ok := q.d.lines[lineItemID]
	if !ok {
		return nil, nil
	}
	li.Title = q.d.items[li.ItemKey].Title
	return &li, nil
}

func (q *memQueries) FindLineItem(ctx context.Context, orderID int64, itemKey string) (*domain.LineItem, error) {
	for _, li := range q.d.lines {
		if li.OrderID == orderID && li.ItemKey == itemKey {
			li.Title = q.d.items[li.ItemKey].Title
			return &li, nil
		}
	}
	return nil, nil
}

func (q *memQueries) InsertLineItem(ctx context.Context, li domain.LineItem) (int64, error) {
	if existing, _ := q.FindLineItem(ctx, li.OrderID, li.ItemKey); existing != nil {
		return 0, port.ErrDuplicate
	}
	q.d.nextLine++
	li.ID = q.d.nextLine
	li.Title = ""
	q.d.lines[li.ID] = li
	return li.ID, nil
}

func (q *memQueries) IncrementLineItem(ctx context.Context, lineItemID int64, delta int) error {
	li, ok := q.d.lines[lineItemID]
	if !ok {
		return nil
	}
	li.Quantity += delta
	q.d.lines[lineItemID] = li
	return nil
}

func (q *memQueries) DeleteLineItem(ctx context.Context, lineItemID int64) (bool, error) {
	if _, ok := q.d.lines[lineItemID]; !ok {
		return false, nil
	}
	delete(q.d.lines, lineItemID)
	return true, nil
}

func (q *memQueries) ListLineItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	var out []domain.LineItem
	for _, li := range q.d.lines {
		if li.OrderID == orderID {
			li.Title = q.d.items[li.ItemKey].Title
			out = append(out, li)
		}
	}
	slices.SortFunc(out, func(a, b domain.LineItem) int { return int(a.ID - b.ID) })
	return out, nil
}

func (q *memQueries) SumLineItems(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	lines, _ := q.ListLineItems(ctx, orderID)
	return domain.SumLineItems(lines), nil
}

func (q *memQueries) ReservedQuantity(ctx context.Context, itemKey string, excludeOrderID int64) (int, error) {
	var n int
	for _, li := range q.d.lines {
		if li.ItemKey != itemKey || li.OrderID == excludeOrderID {
			continue
		}
		if q.d.orders[li.OrderID].IsOpen() {
			n += li.Quantity
		}
	}
	return n, nil
}

func (q *memQueries) InsertReview(ctx context.Context, r domain.Review) (int64, error) {
	if existing, _ := q.FindReview(ctx, r.CustomerID, r.ItemKey); existing != nil {
		return 0, port.ErrDuplicate
	}
	q.d.nextReview++
	r.ID = q.d.nextReview
	r.CustomerName = ""
	q.d.reviews[r.ID] = r
	return r.ID, nil
}

func (q *memQueries) GetReview(ctx context.Context, reviewID int64) (*domain.Review, error) {
	r, ok := q.d.reviews[reviewID]
	if !ok {
		return nil, nil
	}
	r.CustomerName = q.d.customers[r.CustomerID].Name
	return &r, nil
}

func (q *memQueries) FindReview(ctx context.Context, customerID int64, itemKey string) (*domain.Review, error) {
	for _, r := range q.d.reviews {
		if r.CustomerID == customerID && r.ItemKey == itemKey {
			r.CustomerName = q.d.customers[r.CustomerID].Name
			return &r, nil
		}
	}
	return nil, nil
}

func (q *memQueries) UpdateReview(ctx context.Context, r domain.Review) error {
	cur, ok := q.d.reviews[r.ID]
	if !ok {
		return nil
	}
	cur.Rating = r.Rating
	cur.Content = r.Content
	q.d.reviews[r.ID] = cur
	return nil
}

func (q *memQueries) DeleteReview(ctx context.Context, reviewID int64) (bool, error) {
	if _, ok := q.d.reviews[reviewID]; !ok {
		return false, nil
	}
	delete(q.d.reviews, reviewID)
	return true, nil
}

func (q *memQueries) ListReviews(ctx context.Context, itemKey string) ([]domain.Review, error) {
	var out []domain.Review
	for _, r := range q.d.reviews {
		if r.ItemKey == itemKey {
			r.CustomerName = q.d.customers[r.CustomerID].Name
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Review) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (q *memQueries) RatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, error) {
	var sum, n int
	for _, r := range q.d.reviews {
		if r.ItemKey == itemKey {
			sum += r.Rating
			n++
		}
	}
	if n == 0 {
		return domain.RatingSummary{}, nil
	}
	return domain.RatingSummary{Average: float64(sum) / float64(n), Count: n}, nil
}

func (q *memQueries) HasPurchased(ctx context.Context, customerID int64, itemKey string) (bool, error) {
	for _, li := range q.d.lines {
		if li.ItemKey != itemKey {
			continue
		}
		o := q.d.orders[li.OrderID]
		if o.CustomerID == customerID && o.Status == domain.OrderStatusPlaced {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) AppendEvent(ctx context.Context, ev outbox.Event) error {
	q.d.nextEvent++
	ev.ID = q.d.nextEvent
	ev.Status = outbox.StatusPending
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	q.d.events = append(q.d.events, ev)
	return nil
}
