package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/port"
)

// Fills many carts with the same book, shrinks stock below demand, then
// checks out every cart at once. Exactly stock checkouts must win.
func main() {
	carts := flag.Int("carts", 50, "number of competing carts")
	initialStock := flag.Int("stock", 20, "stock left when checkouts start")
	flag.Parse()

	ctx := context.Background()
	db, closeDB := openStore(ctx)
	defer closeDB()

	logger := zap.NewNop()
	ledger := service.NewInventoryLedger(db, logger)
	cartSvc := service.NewCartService(db, logger)
	checkout := service.NewCheckoutService(db, storage.NewMemoryCache(0, 0), ledger, logger)

	itemKey := "stress-" + uuid.NewString()[:8]
	price := decimal.RequireFromString("9.99")
	putStock(ctx, db, itemKey, price, *carts)

	orders := make([]int64, 0, *carts)
	for i := 0; i < *carts; i++ {
		var customerID int64
		name := uuid.NewString()
		err := db.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
			var err error
			customerID, err = q.CreateCustomer(ctx, domain.Customer{Name: name, Email: name + "@stress.local", Role: domain.RoleCustomer})
			return err
		})
		if err != nil {
			log.Fatalf("failed to create customer: %v", err)
		}
		line, err := cartSvc.AddToCart(ctx, customerID, itemKey, price)
		if err != nil {
			log.Fatalf("failed to fill cart: %v", err)
		}
		orders = append(orders, line.OrderID)
	}
	putStock(ctx, db, itemKey, price, *initialStock)

	var successCount, failCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, orderID := range orders {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()

			_, err := checkout.CheckoutOnce(ctx, uuid.NewString(), orderID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrCheckoutFailed):
				failCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("order %d: %v", orderID, err)
			}
		}(orderID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success, fail := successCount.Load(), failCount.Load()
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Checkouts:  %d\n", *carts)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", fail)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if success == int32(*initialStock) && fail == int32(*carts-*initialStock) {
		fmt.Printf("PASS: Exactly %d checkouts succeeded, %d failed\n", success, fail)
	} else {
		ok = false
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			*initialStock, *carts-*initialStock, success, fail)
	}

	item, err := ledger.Item(ctx, itemKey)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", item.Stock)
	if item.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		ok = false
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Stock)
	}

	if !ok {
		os.Exit(1)
	}
}

// openStore uses MySQL when MYSQL_DSN is set and the in-memory store otherwise.
func openStore(ctx context.Context) (port.Store, func()) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		fmt.Println("MYSQL_DSN unset, running against the in-memory store")
		return storage.NewMemoryAdapter(), func() {}
	}

	cfg := config.Default().MySQL
	cfg.DSN = dsn
	sqlDB, err := storage.OpenMySQL(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	m := storage.NewMySQLAdapter(sqlDB, zap.NewNop())
	if err := m.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	return m, func() { sqlDB.Close() }
}

func putStock(ctx context.Context, db port.Store, key string, price decimal.Decimal, stock int) {
	err := db.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		return q.PutItem(ctx, domain.Item{Key: key, Title: "Stress Test Edition", Price: price, Stock: stock})
	})
	if err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}
}
