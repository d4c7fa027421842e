// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/flowscope/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This is separate from the server's read/write
// timeouts; it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long Call waits for a response when ctx
// carries no deadline.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = MaxRequestSize

// ServiceError is returned when the server responds with ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to a flowscope socket. Each Call
// or OpenStream opens a new connection, matching the server's
// one-request-per-connection model.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient creates a client for the socket at socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// SocketPath returns the socket the client dials.
func (c *ServiceClient) SocketPath() string { return c.socketPath }

// Call sends a request and decodes the response.
//
// request may be nil, a map, or a struct; its fields are sent
// alongside "action". On success, if result is non-nil and the
// response carries data, the data is decoded into result. On failure
// (ok=false) Call returns a *ServiceError. Connection and encoding
// errors are returned as plain errors.
//
// ctx bounds the whole exchange: cancellation closes the connection.
func (c *ServiceClient) Call(ctx context.Context, action string, request any, result any) error {
	message, err := buildRequest(action, request)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()
	stop := WatchClose(ctx, conn)
	defer stop()

	if err := codec.NewEncoder(conn).Encode(message); err != nil {
		return c.contextError(ctx, action, fmt.Errorf("writing request: %w", err))
	}

	// Half-close the write side so the server's read side sees EOF
	// cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	// A ctx deadline is enforced by WatchClose.
	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return c.contextError(ctx, action, fmt.Errorf("reading response: %w", err))
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// contextError prefers the context's error when the connection failed
// because ctx ended.
func (c *ServiceClient) contextError(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, ctx.Err())
	}
	return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
}

func (c *ServiceClient) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// buildRequest produces the request map: the caller's fields plus
// "action". Structs are round-tripped through CBOR so their wire
// names are preserved.
func buildRequest(action string, request any) (map[string]any, error) {
	message := make(map[string]any)
	switch fields := request.(type) {
	case nil:
	case map[string]any:
		for key, value := range fields {
			message[key] = value
		}
	default:
		encoded, err := codec.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("encoding %q request: %w", action, err)
		}
		if err := codec.Unmarshal(encoded, &message); err != nil {
			return nil, fmt.Errorf("%q request must encode as a map: %w", action, err)
		}
	}
	message["action"] = action
	return message, nil
}

// ClientStream is an open streaming action.
type ClientStream struct {
	action  string
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	stop    func()
	once    sync.Once
}

// OpenStream starts a streaming action: it sends the request and
// waits for the server's StreamAck. A rejected ack is returned as a
// *ServiceError. Cancelling ctx closes the stream.
func (c *ServiceClient) OpenStream(ctx context.Context, action string, request any) (*ClientStream, error) {
	message, err := buildRequest(action, request)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %q on %s: %w", action, c.socketPath, err)
	}
	stream := &ClientStream{
		action:  action,
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
		stop:    WatchClose(ctx, conn),
	}

	if err := stream.encoder.Encode(message); err != nil {
		stream.Close()
		return nil, c.contextError(ctx, action, fmt.Errorf("writing request: %w", err))
	}

	// The server answers a stream with a StreamAck, or with a
	// Response envelope when routing fails before the handler runs.
	// Both carry ok and error under the same keys.
	var ack StreamAck
	if err := stream.decoder.Decode(&ack); err != nil {
		stream.Close()
		return nil, c.contextError(ctx, action, fmt.Errorf("reading stream ack: %w", err))
	}
	if !ack.OK {
		stream.Close()
		return nil, &ServiceError{Action: action, Message: ack.Error}
	}
	return stream, nil
}

// Receive decodes the next value from the server.
func (s *ClientStream) Receive(v any) error {
	return s.decoder.Decode(v)
}

// Send encodes a value to the server.
func (s *ClientStream) Send(v any) error {
	return s.encoder.Encode(v)
}

// Close closes the connection. It is safe to call more than once.
func (s *ClientStream) Close() error {
	var err error
	s.once.Do(func() {
		s.stop()
		err = s.conn.Close()
	})
	return err
}
