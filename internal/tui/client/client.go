package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pokulabs/poku/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed poku.v1.ChatService client over the daemon's Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+api.ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadChats(ctx context.Context, req *api.LoadChatsRequest) (*api.ChatsResponse, error) {
	return invoke[api.ChatsResponse](ctx, c, "LoadChats", req)
}

func (c *Client) LoadMoreChats(ctx context.Context, req *api.LoadMoreChatsRequest) (*api.ChatsResponse, error) {
	return invoke[api.ChatsResponse](ctx, c, "LoadMoreChats", req)
}

func (c *Client) MarkRead(ctx context.Context, req *api.MarkReadRequest) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, "MarkRead", req)
}

func (c *Client) FlagChat(ctx context.Context, req *api.FlagChatRequest) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, "FlagChat", req)
}

func (c *Client) ClaimChat(ctx context.Context, req *api.ClaimChatRequest) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, "ClaimChat", req)
}

func (c *Client) LabelChat(ctx context.Context, req *api.LabelChatRequest) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, "LabelChat", req)
}

func (c *Client) ListThread(ctx context.Context, req *api.ListThreadRequest) (*api.ListThreadResponse, error) {
	return invoke[api.ListThreadResponse](ctx, c, "ListThread", req)
}

func (c *Client) SearchMessages(ctx context.Context, req *api.SearchMessagesRequest) (*api.SearchMessagesResponse, error) {
	return invoke[api.SearchMessagesResponse](ctx, c, "SearchMessages", req)
}

func (c *Client) SendText(ctx context.Context, req *api.SendTextRequest) (*api.SendTextResponse, error) {
	return invoke[api.SendTextResponse](ctx, c, "SendText", req)
}

func (c *Client) GetStatus(ctx context.Context) (*api.GetStatusResponse, error) {
	return invoke[api.GetStatusResponse](ctx, c, "GetStatus", &api.GetStatusRequest{})
}

// WatchEvents streams daemon events to fn until ctx ends, the stream closes
// or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, req *api.WatchEventsRequest, fn func(*api.EventEnvelope) error) error {
	desc := &api.ChatServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+api.ServiceName+"/WatchEvents")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(api.EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
