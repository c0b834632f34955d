package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// Client talks to a running daemon. Each call dials, sends one request and
// reads one reply.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	seq         atomic.Uint64
}

// NewClient creates a client for the socket.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, dialTimeout: domain.DefaultDialTimeout}
}

// WithDialTimeout overrides the connect timeout.
func (c *Client) WithDialTimeout(d time.Duration) *Client {
	c.dialTimeout = d
	return c
}

// Ask sends a question and waits for the answer.
func (c *Client) Ask(ctx context.Context, text string, mode domain.InteractionMode) (domain.Answer, error) {
	reply, err := c.roundTrip(ctx, MsgTypeAsk, AskPayload{Text: text, Mode: mode}, MsgTypeAnswer)
	if err != nil {
		return domain.Answer{}, err
	}
	var answer domain.Answer
	if err := json.Unmarshal(reply.Payload, &answer); err != nil {
		return domain.Answer{}, fmt.Errorf("decode answer: %w", err)
	}
	return answer, nil
}

// Status asks the daemon to describe itself.
func (c *Client) Status(ctx context.Context) (StatusPayload, error) {
	reply, err := c.roundTrip(ctx, MsgTypeStatus, nil, MsgTypeStatus)
	if err != nil {
		return StatusPayload{}, err
	}
	var status StatusPayload
	if err := json.Unmarshal(reply.Payload, &status); err != nil {
		return StatusPayload{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, MsgTypePing, nil, MsgTypePong)
	return err
}

func (c *Client) roundTrip(ctx context.Context, msgType string, payload interface{}, want string) (Message, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	id := strconv.FormatUint(c.seq.Add(1), 10)
	msg, err := newMessage(msgType, id, payload)
	if err != nil {
		return Message{}, err
	}
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Message{}, c.transportError(ctx, "send "+msgType, err)
	}

	var reply Message
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Message{}, c.transportError(ctx, "read reply", err)
	}
	if reply.Type == MsgTypeError {
		var e ErrorPayload
		_ = json.Unmarshal(reply.Payload, &e)
		return Message{}, fmt.Errorf("daemon: %s", e.Error)
	}
	if reply.Type != want {
		return Message{}, fmt.Errorf("unexpected reply %q to %s", reply.Type, msgType)
	}
	if reply.ID != id {
		return Message{}, fmt.Errorf("reply id %q does not match request %q", reply.ID, id)
	}
	return reply, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
