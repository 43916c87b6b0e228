package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

// CustomerHeader carries the acting customer id. Authentication happens
// upstream.
const CustomerHeader = "X-Customer-ID"

const IdempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	log      *zap.Logger
	carts    *service.CartService
	checkout *service.CheckoutService
	ledger   *service.InventoryLedger
	reviews  *service.ReviewService
	tracer   trace.Tracer
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func NewHTTPHandler(log *zap.Logger, carts *service.CartService, checkout *service.CheckoutService,
	ledger *service.InventoryLedger, reviews *service.ReviewService) *HTTPHandler {
	return &HTTPHandler{
		log:      log,
		carts:    carts,
		checkout: checkout,
		ledger:   ledger,
		reviews:  reviews,
		tracer:   otel.Tracer("bookstore-http"),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)
	r.Use(h.traced)

	r.Get("/health", h.HealthCheck)

	r.Route("/customers/{customerID}", func(r chi.Router) {
		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.addToCart)
		r.Get("/orders", h.listOrders)
	})
	r.Delete("/cart/items/{lineItemID}", h.removeFromCart)

	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/items", h.listCartItems)
	r.Post("/orders/{orderID}/checkout", h.placeOrder)

	r.Get("/items/{itemKey}", h.getItem)
	r.Put("/items/{itemKey}", h.putItem)
	r.Post("/items/{itemKey}/restock", h.restock)
	r.Get("/items/{itemKey}/reviews", h.listReviews)
	r.Post("/items/{itemKey}/reviews", h.addReview)

	r.Put("/reviews/{reviewID}", h.updateReview)
	r.Delete("/reviews/{reviewID}", h.deleteReview)

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cartView struct {
	Cart
	Items []LineItem `json:"items"`
}

func (h *HTTPHandler) getCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	cart, err := h.carts.GetOrCreateCart(r.Context(), customerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.carts.ListCartItems(r.Context(), cart.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: cartView{Cart: toCart(cart), Items: toLineItems(lines)}})
}

type addToCartBody struct {
	ItemKey   string           `json:"item_key"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

func (h *HTTPHandler) addToCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	var body addToCartBody
	if !decode(w, r, &body) {
		return
	}

	line, err := addWithPrice(r.Context(), h.carts, h.ledger, customerID, body.ItemKey, body.UnitPrice)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "added to cart", Data: toLineItem(line)})
}

// addWithPrice falls back to the catalog price when the caller sends none.
func addWithPrice(ctx context.Context, carts *service.CartService, ledger *service.InventoryLedger,
	customerID int64, itemKey string, unitPrice *decimal.Decimal) (domain.LineItem, error) {
	if unitPrice == nil {
		item, err := ledger.Item(ctx, itemKey)
		if errors.Is(err, service.ErrNotFound) {
			return domain.LineItem{}, fmt.Errorf("%w: unknown item %q", service.ErrValidation, itemKey)
		}
		if err != nil {
			return domain.LineItem{}, err
		}
		unitPrice = &item.Price
	}
	return carts.AddToCart(ctx, customerID, itemKey, *unitPrice)
}

func (h *HTTPHandler) removeFromCart(w http.ResponseWriter, r *http.Request) {
	lineItemID, ok := pathID(w, r, "lineItemID")
	if !ok {
		return
	}
	if err := h.carts.RemoveFromCart(r.Context(), lineItemID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "removed"})
}

func (h *HTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	o, err := h.carts.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toCart(o)})
}

func (h *HTTPHandler) listCartItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	lines, err := h.carts.ListCartItems(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toLineItems(lines)})
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	orders, err := h.carts.ListOrders(r.Context(), customerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]Cart, 0, len(orders))
	for _, o := range orders {
		out = append(out, toCart(o))
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *HTTPHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var (
		placed domain.Order
		err    error
	)
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		placed, err = h.checkout.CheckoutOnce(r.Context(), key, orderID)
	} else {
		placed, err = h.checkout.Checkout(r.Context(), orderID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "order placed successfully", Data: toCart(placed)})
}

func (h *HTTPHandler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.Item(r.Context(), chi.URLParam(r, "itemKey"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toItem(item)})
}

type putItemBody struct {
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func (h *HTTPHandler) putItem(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var body putItemBody
	if !decode(w, r, &body) {
		return
	}
	item, err := h.ledger.PutItem(r.Context(), actorID, domain.Item{
		Key:   chi.URLParam(r, "itemKey"),
		Title: body.Title,
		Price: body.Price,
		Stock: body.Stock,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toItem(item)})
}

type restockBody struct {
	Quantity int `json:"quantity"`
}

func (h *HTTPHandler) restock(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var body restockBody
	if !decode(w, r, &body) {
		return
	}
	item, err := h.ledger.Restock(r.Context(), actorID, chi.URLParam(r, "itemKey"), body.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toItem(item)})
}

func (h *HTTPHandler) listReviews(w http.ResponseWriter, r *http.Request) {
	itemKey := chi.URLParam(r, "itemKey")
	sum, err := h.reviews.Summary(r.Context(), itemKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.reviews.ListReviews(r.Context(), itemKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := ReviewList{Average: sum.Average, Count: sum.Count, Reviews: make([]Review, 0, len(list))}
	for _, rv := range list {
		out.Reviews = append(out.Reviews, toReview(rv))
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

type reviewBody struct {
	Rating  int    `json:"rating"`
	Content string `json:"content"`
}

func (h *HTTPHandler) addReview(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var body reviewBody
	if !decode(w, r, &body) {
		return
	}
	rv, err := h.reviews.AddReview(r.Context(), actorID, chi.URLParam(r, "itemKey"), body.Rating, body.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toReview(rv)})
}

func (h *HTTPHandler) updateReview(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewID")
	if !ok {
		return
	}
	var body reviewBody
	if !decode(w, r, &body) {
		return
	}
	rv, err := h.reviews.UpdateReview(r.Context(), actorID, reviewID, body.Rating, body.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toReview(rv)})
}

func (h *HTTPHandler) deleteReview(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewID")
	if !ok {
		return
	}
	if err := h.reviews.DeleteReview(r.Context(), actorID, reviewID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "deleted"})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("error.message", message))
	writeJSON(w, status, Response{Success: false, Message: message})
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// traced opens one span per request, renamed to the matched route once
// routing is done.
func (h *HTTPHandler) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))

		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			span.SetName(r.Method + " " + rc.RoutePattern())
		}
	})
}

func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(CustomerHeader), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusUnauthorized, Response{Success: false, Message: "missing or invalid " + CustomerHeader})
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid " + name})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
