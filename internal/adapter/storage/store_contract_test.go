package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/outbox"
	"github.com/rl1809/bookstore/internal/port"
)

type contractStore interface {
	port.Store
	outbox.Store
}

// runStoreContract checks behavior both stores must share. newStore must
// return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) contractStore) {
	t.Run("items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("open order unique", func(t *testing.T) { testOpenOrderUnique(t, newStore(t)) })
	t.Run("line items", func(t *testing.T) { testLineItems(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("reviews", func(t *testing.T) { testReviews(t, newStore(t)) })
	t.Run("outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
}

func tx(t *testing.T, s port.Store, fn func(ctx context.Context, q port.Queries) error) {
	t.Helper()
	require.NoError(t, s.WithinTx(context.Background(), fn))
}

func seedCustomer(t *testing.T, s port.Store, name string) int64 {
	t.Helper()
	var id int64
	tx(t, s, func(ctx context.Context, q port.Queries) error {
		var err error
		id, err = q.CreateCustomer(ctx, domain.Customer{Name: name, Email: name + "@example.com", Role: domain.RoleCustomer})
		return err
	})
	return id
}

func seedItem(t *testing.T, s port.Store, key string, stock int) {
	t.Helper()
	tx(t, s, func(ctx context.Context, q port.Queries) error {
		return q.PutItem(ctx, domain.Item{Key: key, Title: "T-" + key, Price: decimal.RequireFromString("9.50"), Stock: stock})
	})
}

func testItems(t *testing.T, s contractStore) {
	ctx := context.Background()
	seedItem(t, s, "a", 3)

	tx(t, s, func(ctx context.Context, q port.Queries) error {
		it, err := q.GetItem(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, it)
		assert.Equal(t, "T-a", it.Title)
		assert.Equal(t, "9.50", it.Price.StringFixed(2))
		assert.Equal(t, 3, it.Stock)
		v := it.Version

		ok, err := q.DebitStock(ctx, "a", 2)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.DebitStock(ctx, "a", 2)
		require.NoError(t, err)
		assert.False(t, ok, "debit beyond stock must not apply")

		ok, err = q.RestockItem(ctx, "a", 5)
		require.NoError(t, err)
		assert.True(t, ok)

		it, err = q.LockItem(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 6, it.Stock)
		assert.Equal(t, v+2, it.Version)

		missing, err := q.GetItem(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		ok, err = q.RestockItem(ctx, "nope", 1)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})

	var it *domain.Item
	require.NoError(t, s.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		it, err = q.GetItem(ctx, "a")
		return err
	}))
	assert.Equal(t, 6, it.Stock)
}

func testOpenOrderUnique(t *testing.T, s contractStore) {
	cust := seedCustomer(t, s, "alice")
	now := time.Now().UTC().Truncate(time.Second)

	var first *domain.Order
	tx(t, s, func(ctx context.Context, q port.Queries) error {
		var err error
		first, err = q.CreateOpenOrder(ctx, cust, now)
		return err
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, q port.Queries) error {
		_, err := q.CreateOpenOrder(ctx, cust, now)
		return err
	})
	assert.ErrorIs(t, err, port.ErrDuplicate)

	tx(t, s, func(ctx context.Context, q port.Queries) error {
		found, err := q.FindOpenOrder(ctx, cust)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, first.ID, found.ID)
		assert.True(t, found.Total.IsZero())

		ok, err := q.MarkOrderPlaced(ctx, first.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = q.MarkOrderPlaced(ctx, first.ID, now)
		require.NoError(t, err)
		assert.False(t, ok, "an order is placed at most once")

		second, err := q.CreateOpenOrder(ctx, cust, now)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		orders, err := q.ListOrders(ctx, cust)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, second.ID, orders[0].ID)
		require.NotNil(t, orders[1].PlacedAt)
		assert.WithinDuration(t, now, *orders[1].PlacedAt, time.Second)
		return nil
	})
}

func testLineItems(t *testing.T, s contractStore) {
	alice := seedCustomer(t, s, "alice")
	bob := seedCustomer(t, s, "bob")
	seedItem(t, s, "a", 10)
	seedItem(t, s, "b", 10)

	tx(t, s, func(ctx context.Context, q port.Queries) error {
		cart, err := q.CreateOpenOrder(ctx, alice, time.Now().UTC())
		require.NoError(t, err)
		other, err := q.CreateOpenOrder(ctx, bob, time.Now().UTC())
		require.NoError(t, err)

		idA, err := q.InsertLineItem(ctx, domain.LineItem{OrderID: cart.ID, ItemKey: "a", Quantity: 1, PriceAtAdd: decimal.RequireFromString("10")})
		require.NoError(t, err)
		_, err = q.InsertLineItem(ctx, domain.LineItem{OrderID: cart.ID, ItemKey: "b", Quantity: 1, PriceAtAdd: decimal.RequireFromString("5")})
		require.NoError(t, err)
		_, err = q.InsertLineItem(ctx, domain.LineItem{OrderID: other.ID, ItemKey: "a", Quantity: 3, PriceAtAdd: decimal.RequireFromString("10")})
		require.NoError(t, err)

		require.NoError(t, q.IncrementLineItem(ctx, idA, 1))

		lines, err := q.ListLineItems(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, "a", lines[0].ItemKey)
		assert.Equal(t, "T-a", lines[0].Title)
		assert.Equal(t, 2, lines[0].Quantity)

		sum, err := q.SumLineItems(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, "25.00", sum.StringFixed(2))

		reserved, err := q.ReservedQuantity(ctx, "a", cart.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, reserved)
		reserved, err = q.ReservedQuantity(ctx, "a", 0)
		require.NoError(t, err)
		assert.Equal(t, 5, reserved)

		found, err := q.FindLineItem(ctx, cart.ID, "b")
		require.NoError(t, err)
		require.NotNil(t, found)
		ok, err := q.DeleteLineItem(ctx, found.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = q.DeleteLineItem(ctx, found.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		gone, err := q.GetLineItem(ctx, found.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		sum, err = q.SumLineItems(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, "20.00", sum.StringFixed(2))

		require.NoError(t, q.SetOrderTotal(ctx, cart.ID, sum))
		o, err := q.GetOrder(ctx, cart.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(o.Total))
		return nil
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, q port.Queries) error {
		cart, err := q.FindOpenOrder(ctx, alice)
		require.NoError(t, err)
		_, err = q.InsertLineItem(ctx, domain.LineItem{OrderID: cart.ID, ItemKey: "a", Quantity: 1, PriceAtAdd: decimal.Zero})
		return err
	})
	assert.ErrorIs(t, err, port.ErrDuplicate)
}

func testRollback(t *testing.T, s contractStore) {
	seedItem(t, s, "a", 5)
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, q port.Queries) error {
		ok, err := q.DebitStock(ctx, "a", 5)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, q port.Queries) error {
			_, _ = q.DebitStock(ctx, "a", 5)
			panic("mid-transaction")
		})
	})

	tx(t, s, func(ctx context.Context, q port.Queries) error {
		it, err := q.GetItem(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 5, it.Stock)
		return nil
	})
}

func testReviews(t *testing.T, s contractStore) {
	alice := seedCustomer(t, s, "alice")
	bob := seedCustomer(t, s, "bob")
	seedItem(t, s, "a", 5)
	base := time.Now().UTC().Truncate(time.Second)

	tx(t, s, func(ctx context.Context, q port.Queries) error {
		id, err := q.InsertReview(ctx, domain.Review{ItemKey: "a", CustomerID: alice, Rating: 4, Content: "good", CreatedAt: base})
		require.NoError(t, err)
		_, err = q.InsertReview(ctx, domain.Review{ItemKey: "a", CustomerID: bob, Rating: 1, Content: "bad", CreatedAt: base.Add(time.Minute)})
		require.NoError(t, err)

		_, err = q.InsertReview(ctx, domain.Review{ItemKey: "a", CustomerID: alice, Rating: 2, Content: "again", CreatedAt: base})
		assert.ErrorIs(t, err, port.ErrDuplicate)

		r, err := q.FindReview(ctx, alice, "a")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, id, r.ID)
		assert.Equal(t, "alice", r.CustomerName)

		r.Rating = 5
		r.Content = "great"
		require.NoError(t, q.UpdateReview(ctx, *r))

		list, err := q.ListReviews(ctx, "a")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "bob", list[0].CustomerName)
		assert.Equal(t, 5, list[1].Rating)

		sum, err := q.RatingSummary(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Count)
		assert.InDelta(t, 3.0, sum.Average, 1e-9)

		empty, err := q.RatingSummary(ctx, "none")
		require.NoError(t, err)
		assert.Equal(t, domain.RatingSummary{}, empty)

		ok, err := q.DeleteReview(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		gone, err := q.GetReview(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, gone)

		bought, err := q.HasPurchased(ctx, alice, "a")
		require.NoError(t, err)
		assert.False(t, bought)

		o, err := q.CreateOpenOrder(ctx, alice, base)
		require.NoError(t, err)
		_, err = q.InsertLineItem(ctx, domain.LineItem{OrderID: o.ID, ItemKey: "a", Quantity: 1, PriceAtAdd: decimal.RequireFromString("1")})
		require.NoError(t, err)
		_, err = q.MarkOrderPlaced(ctx, o.ID, base)
		require.NoError(t, err)

		bought, err = q.HasPurchased(ctx, alice, "a")
		require.NoError(t, err)
		assert.True(t, bought)
		return nil
	})
}

func testOutbox(t *testing.T, s contractStore) {
	ctx := context.Background()
	tx(t, s, func(ctx context.Context, q port.Queries) error {
		for _, id := range []string{"1", "2"} {
			require.NoError(t, q.AppendEvent(ctx, outbox.Event{
				AggregateType: "order",
				AggregateID:   id,
				Type:          domain.EventOrderPlaced,
				Payload:       []byte(`{"order_id":` + id + `}`),
				Headers:       map[string]string{"traceparent": "00-abc-def-01"},
			}))
		}
		return nil
	})

	batch, err := s.LockBatch(ctx, "relay-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].AggregateID)
	assert.Equal(t, "00-abc-def-01", batch[0].Headers["traceparent"])
	assert.Equal(t, outbox.StatusInProgress, batch[0].Status)

	again, err := s.LockBatch(ctx, "relay-2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased events are not handed out twice")

	require.NoError(t, s.MarkSent(ctx, []int64{batch[0].ID}))
	require.NoError(t, s.MarkFailed(ctx, batch[1].ID, "broker down"))

	retry, err := s.LockBatch(ctx, "relay-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, batch[1].ID, retry[0].ID)
	assert.Equal(t, 1, retry[0].RetryCount)

	for i := 1; i < outbox.MaxRetries; i++ {
		require.NoError(t, s.MarkFailed(ctx, batch[1].ID, "broker down"))
	}
	final, err := s.LockBatch(ctx, "relay-1", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, final, "events past the retry limit stay failed")
}
