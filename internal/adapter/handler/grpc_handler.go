package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

// GRPCHandler reports business failures in the response body, like the
// HTTP adapter does. Only malformed requests surface as gRPC status errors.
type GRPCHandler struct {
	log      *zap.Logger
	carts    *service.CartService
	checkout *service.CheckoutService
	ledger   *service.InventoryLedger
}

func NewGRPCHandler(log *zap.Logger, carts *service.CartService, checkout *service.CheckoutService, ledger *service.InventoryLedger) *GRPCHandler {
	return &GRPCHandler{log: log, carts: carts, checkout: checkout, ledger: ledger}
}

func (h *GRPCHandler) GetOrCreateCart(ctx context.Context, req *GetOrCreateCartRequest) (*CartResponse, error) {
	if req.CustomerID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}
	cart, err := h.carts.GetOrCreateCart(ctx, req.CustomerID)
	if err != nil {
		msg, err := h.failure(err)
		return &CartResponse{Message: msg}, err
	}
	c := toCart(cart)
	return &CartResponse{Success: true, Cart: &c}, nil
}

func (h *GRPCHandler) ListCartItems(ctx context.Context, req *ListCartItemsRequest) (*LineItemsResponse, error) {
	if req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	lines, err := h.carts.ListCartItems(ctx, req.OrderID)
	if err != nil {
		msg, err := h.failure(err)
		return &LineItemsResponse{Message: msg}, err
	}
	return &LineItemsResponse{Success: true, Items: toLineItems(lines)}, nil
}

func (h *GRPCHandler) AddToCart(ctx context.Context, req *AddToCartRequest) (*AddToCartResponse, error) {
	if req.CustomerID <= 0 || req.ItemKey == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id and item_key are required")
	}
	line, err := addWithPrice(ctx, h.carts, h.ledger, req.CustomerID, req.ItemKey, req.UnitPrice)
	if err != nil {
		msg, err := h.failure(err)
		return &AddToCartResponse{Message: msg}, err
	}
	li := toLineItem(line)
	return &AddToCartResponse{Success: true, Message: "added to cart", Item: &li}, nil
}

func (h *GRPCHandler) RemoveFromCart(ctx context.Context, req *RemoveFromCartRequest) (*StatusResponse, error) {
	if req.LineItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "line_item_id is required")
	}
	if err := h.carts.RemoveFromCart(ctx, req.LineItemID); err != nil {
		msg, err := h.failure(err)
		return &StatusResponse{Message: msg}, err
	}
	return &StatusResponse{Success: true, Message: "removed"}, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*CartResponse, error) {
	if req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	var (
		placed domain.Order
		err    error
	)
	if req.RequestID != "" {
		placed, err = h.checkout.CheckoutOnce(ctx, req.RequestID, req.OrderID)
	} else {
		placed, err = h.checkout.Checkout(ctx, req.OrderID)
	}
	if err != nil {
		msg, err := h.failure(err)
		return &CartResponse{Message: msg}, err
	}
	c := toCart(placed)
	return &CartResponse{Success: true, Message: "order placed successfully", Cart: &c}, nil
}

// failure turns a service error into a response message. Validation errors
// become InvalidArgument, unexpected ones are logged and hidden.
func (h *GRPCHandler) failure(err error) (string, error) {
	code, msg := classify(err)
	switch {
	case errors.Is(err, service.ErrValidation):
		return "", status.Error(codes.InvalidArgument, msg)
	case code == http.StatusInternalServerError:
		h.log.Error("grpc call failed", zap.Error(err))
	}
	return msg, nil
}

// UnaryLogger logs every unary call with its outcome.
func UnaryLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		log.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
