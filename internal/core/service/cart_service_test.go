package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/core/domain"
)

func TestGetOrCreateCart_ReturnsSameCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)

	first, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	second, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.OrderStatusOpen, first.Status)
	assert.True(t, first.Total.IsZero())
}

func TestGetOrCreateCart_UnknownCustomer(t *testing.T) {
	f := newFixture(t)

	_, err := f.carts.GetOrCreateCart(context.Background(), 42)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.carts.GetOrCreateCart(context.Background(), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetOrCreateCart_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)

	const workers = 20
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cart, err := f.carts.GetOrCreateCart(ctx, alice)
			if assert.NoError(t, err) {
				ids[i] = cart.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	orders, err := f.carts.ListOrders(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestAddToCart_IncrementsExistingLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-0", "12.50", 5)

	f.add(t, alice, "978-0", "12.50", 2)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)

	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "Title 978-0", lines[0].Title)
	assert.Equal(t, "25.00", cart.Total.StringFixed(2))
	assert.Equal(t, 5, f.stock(t, "978-0"), "adding to a cart must not touch stock")
}

func TestAddToCart_AtStockLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-1", "9.99", 1)

	f.add(t, alice, "978-1", "9.99", 1)
	_, err := f.carts.AddToCart(ctx, alice, "978-1", dec("9.99"))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, "9.99", cart.Total.StringFixed(2))
}

func TestAddToCart_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-2", "5.00", 3)

	tests := []struct {
		name       string
		customerID int64
		itemKey    string
		price      string
	}{
		{"unknown customer", 999, "978-2", "5.00"},
		{"missing item key", alice, "", "5.00"},
		{"unknown item", alice, "nope", "5.00"},
		{"negative price", alice, "978-2", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.carts.AddToCart(ctx, tt.customerID, tt.itemKey, dec(tt.price))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	orders, err := f.carts.ListOrders(ctx, alice)
	require.NoError(t, err)
	for _, o := range orders {
		lines, err := f.carts.ListCartItems(ctx, o.ID)
		require.NoError(t, err)
		assert.Empty(t, lines)
	}
}

func TestAddToCart_PriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-3", "10.00", 5)

	f.add(t, alice, "978-3", "10.00", 1)
	f.item(t, "978-3", "99.00", 5)
	f.add(t, alice, "978-3", "99.00", 1)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "10.00", lines[0].PriceAtAdd.StringFixed(2))
	assert.Equal(t, "20.00", cart.Total.StringFixed(2))
}

func TestCartTotal_TracksLineItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "ten", "10.00", 10)
	f.item(t, "five", "5.00", 10)

	f.add(t, alice, "ten", "10.00", 2)
	f.add(t, alice, "five", "5.00", 1)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "25.00", cart.Total.StringFixed(2))

	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, domain.SumLineItems(lines).Equal(cart.Total))

	var fiveLine int64
	for _, l := range lines {
		if l.ItemKey == "five" {
			fiveLine = l.ID
		}
	}
	require.NoError(t, f.carts.RemoveFromCart(ctx, fiveLine))

	cart, err = f.carts.GetOrder(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", cart.Total.StringFixed(2))
}

func TestRemoveFromCart_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-4", "7.00", 3)
	f.add(t, alice, "978-4", "7.00", 1)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	require.NoError(t, f.carts.RemoveFromCart(ctx, lines[0].ID))
	once, err := f.carts.GetOrder(ctx, cart.ID)
	require.NoError(t, err)

	require.NoError(t, f.carts.RemoveFromCart(ctx, lines[0].ID))
	twice, err := f.carts.GetOrder(ctx, cart.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.True(t, twice.Total.IsZero())
}

func TestRemoveFromCart_PlacedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-5", "3.00", 3)
	f.add(t, alice, "978-5", "3.00", 1)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	lines, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	_, err = f.checkout.Checkout(ctx, cart.ID)
	require.NoError(t, err)

	err = f.carts.RemoveFromCart(ctx, lines[0].ID)
	assert.ErrorIs(t, err, ErrOrderNotOpen)

	after, err := f.carts.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestRecomputeTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-6", "4.25", 3)
	f.add(t, alice, "978-6", "4.25", 2)

	cart, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	total, err := f.carts.RecomputeTotal(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.50", total.StringFixed(2))

	_, err = f.carts.RecomputeTotal(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCartItems_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.carts.ListCartItems(context.Background(), 123)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Stock of one: the first cart holds the last copy, so a second customer
// cannot add it, and the first customer's checkout drains stock to zero.
func TestLastCopyScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.customer(t, "a", domain.RoleCustomer)
	b := f.customer(t, "b", domain.RoleCustomer)
	f.item(t, "X", "15.00", 1)

	f.add(t, a, "X", "15.00", 1)

	_, err := f.carts.AddToCart(ctx, b, "X", dec("15.00"))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	bCart, err := f.carts.GetOrCreateCart(ctx, b)
	require.NoError(t, err)
	bLines, err := f.carts.ListCartItems(ctx, bCart.ID)
	require.NoError(t, err)
	assert.Empty(t, bLines)
	assert.True(t, bCart.Total.IsZero())

	aCart, err := f.carts.GetOrCreateCart(ctx, a)
	require.NoError(t, err)
	placed, err := f.checkout.Checkout(ctx, aCart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPlaced, placed.Status)
	assert.Equal(t, 0, f.stock(t, "X"))
}

func TestListOrders_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "978-7", "1.00", 10)

	f.add(t, alice, "978-7", "1.00", 1)
	first, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	_, err = f.checkout.Checkout(ctx, first.ID)
	require.NoError(t, err)

	f.add(t, alice, "978-7", "1.00", 1)
	second, err := f.carts.GetOrCreateCart(ctx, alice)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "a placed cart is never reused")

	orders, err := f.carts.ListOrders(ctx, alice)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, domain.OrderStatusOpen, orders[0].Status)
	assert.Equal(t, domain.OrderStatusPlaced, orders[1].Status)
	assert.NotNil(t, orders[1].PlacedAt)
}
