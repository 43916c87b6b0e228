package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The cart service is declared by hand and carried as JSON on the wire.
// Clients must select the codec with grpc.CallContentSubtype(CodecName).

const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const cartServiceName = "bookstore.v1.CartService"

type CartServiceServer interface {
	GetOrCreateCart(context.Context, *GetOrCreateCartRequest) (*CartResponse, error)
	ListCartItems(context.Context, *ListCartItemsRequest) (*LineItemsResponse, error)
	AddToCart(context.Context, *AddToCartRequest) (*AddToCartResponse, error)
	RemoveFromCart(context.Context, *RemoveFromCartRequest) (*StatusResponse, error)
	Checkout(context.Context, *CheckoutRequest) (*CartResponse, error)
}

func unary[Req, Resp any](method string, call func(CartServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CartServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + cartServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CartServiceServer), ctx, req.(*Req))
			})
		},
	}
}

var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: cartServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetOrCreateCart", CartServiceServer.GetOrCreateCart),
		unary("ListCartItems", CartServiceServer.ListCartItems),
		unary("AddToCart", CartServiceServer.AddToCart),
		unary("RemoveFromCart", CartServiceServer.RemoveFromCart),
		unary("Checkout", CartServiceServer.Checkout),
	},
	Metadata: "bookstore/v1/cart.json",
}

func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

// CartClient calls the cart service over an established connection.
type CartClient struct {
	cc grpc.ClientConnInterface
}

func NewCartClient(cc grpc.ClientConnInterface) *CartClient {
	return &CartClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+cartServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartClient) GetOrCreateCart(ctx context.Context, in *GetOrCreateCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, "GetOrCreateCart", in, opts)
}

func (c *CartClient) ListCartItems(ctx context.Context, in *ListCartItemsRequest, opts ...grpc.CallOption) (*LineItemsResponse, error) {
	return invoke[LineItemsResponse](ctx, c.cc, "ListCartItems", in, opts)
}

func (c *CartClient) AddToCart(ctx context.Context, in *AddToCartRequest, opts ...grpc.CallOption) (*AddToCartResponse, error) {
	return invoke[AddToCartResponse](ctx, c.cc, "AddToCart", in, opts)
}

func (c *CartClient) RemoveFromCart(ctx context.Context, in *RemoveFromCartRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "RemoveFromCart", in, opts)
}

func (c *CartClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, "Checkout", in, opts)
}
