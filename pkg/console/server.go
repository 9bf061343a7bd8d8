package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Service and method names of the remote console.
const (
	ServiceName = "progsvm.Console"
	TailMethod  = "/" + ServiceName + "/Tail"
)

// Errors.
var (
	ErrServerClosed = errors.New("console server closed")
)

// TailRequest opens a tail stream.
type TailRequest struct {
	// Buffer is the number of lines queued for a slow reader.
	Buffer int `json:"buffer,omitempty"`
}

// ServerConfig configures the remote console server.
type ServerConfig struct {
	Addr   string
	Logger zerolog.Logger
}

// DefaultServerConfig returns the default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: "127.0.0.1:27501", Logger: zerolog.Nop()}
}

// Server serves a Broadcaster over gRPC.
type Server struct {
	cfg    ServerConfig
	b      *Broadcaster
	grpc   *grpc.Server
	mu     sync.Mutex
	closed bool
}

type tailServer interface {
	tail(req *TailRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*tailServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Tail",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := &TailRequest{}
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(tailServer).tail(req, stream)
			},
		},
	},
	Metadata: "console",
}

// NewServer creates a server for b.
func NewServer(b *Broadcaster, cfg ServerConfig) *Server {
	s := &Server{
		cfg:  cfg,
		b:    b,
		grpc: grpc.NewServer(grpc.ForceServerCodec(jsonCodec{})),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) tail(req *TailRequest, stream grpc.ServerStream) error {
	lines, cancel := s.b.Subscribe(req.Buffer)
	defer cancel()
	s.cfg.Logger.Debug().Int("subscribers", s.b.Subscribers()).Msg("console tail opened")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&line); err != nil {
				return err
			}
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.mu.Unlock()
	s.cfg.Logger.Info().Str("addr", lis.Addr().String()).Msg("console listening")
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("console listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop closes every stream and the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.grpc.Stop()
}

// Client tails a remote console.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a console server. Extra options are appended to the
// defaults, which use plaintext transport.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	//nolint:staticcheck // Dial keeps compatibility with older gRPC versions
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial console: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Tail streams lines to fn until ctx is cancelled or the server goes away.
func (c *Client) Tail(ctx context.Context, buffer int, fn func(Line)) error {
	desc := &grpc.StreamDesc{StreamName: "Tail", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, TailMethod)
	if err != nil {
		return fmt.Errorf("failed to open tail: %w", err)
	}
	if err := stream.SendMsg(&TailRequest{Buffer: buffer}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var line Line
		if err := stream.RecvMsg(&line); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(line)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
