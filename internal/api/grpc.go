package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "poku.v1.ChatService"

// ChatServer is the server API of poku.v1.ChatService.
type ChatServer interface {
	LoadChats(context.Context, *LoadChatsRequest) (*ChatsResponse, error)
	LoadMoreChats(context.Context, *LoadMoreChatsRequest) (*ChatsResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*Ack, error)
	FlagChat(context.Context, *FlagChatRequest) (*Ack, error)
	ClaimChat(context.Context, *ClaimChatRequest) (*Ack, error)
	LabelChat(context.Context, *LabelChatRequest) (*Ack, error)
	ListThread(context.Context, *ListThreadRequest) (*ListThreadResponse, error)
	SearchMessages(context.Context, *SearchMessagesRequest) (*SearchMessagesResponse, error)
	SendText(context.Context, *SendTextRequest) (*SendTextResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	WatchEvents(*WatchEventsRequest, EventSender) error
}

var _ ChatServer = (*ChatService)(nil)

// ChatServiceDesc describes poku.v1.ChatService for grpc.Server.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("LoadChats", ChatServer.LoadChats),
		unary("LoadMoreChats", ChatServer.LoadMoreChats),
		unary("MarkRead", ChatServer.MarkRead),
		unary("FlagChat", ChatServer.FlagChat),
		unary("ClaimChat", ChatServer.ClaimChat),
		unary("LabelChat", ChatServer.LabelChat),
		unary("ListThread", ChatServer.ListThread),
		unary("SearchMessages", ChatServer.SearchMessages),
		unary("SendText", ChatServer.SendText),
		unary("GetStatus", ChatServer.GetStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "poku/v1/chat.proto",
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (w *watchEventsServer) Send(env *EventEnvelope) error {
	return w.ServerStream.SendMsg(env)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServer).WatchEvents(in, &watchEventsServer{stream})
}
