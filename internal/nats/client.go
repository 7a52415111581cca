package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/uavlog/internal/types"
)

const (
	StreamName = "UAV_SESSIONS"

	SubjectSessionDecoded = "uav.session.decoded"
	SubjectReprocess      = "uav.session.reprocess"
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client and makes sure the session stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("uavlog"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectSessionDecoded, SubjectReprocess},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishSessionEvent announces a decoded or rebuilt session
func (c *Client) PublishSessionEvent(ev *types.SessionEvent) error {
	return c.publish(SubjectSessionDecoded, ev)
}

// PublishReprocessRequest asks reprocessors to rebuild sessions
func (c *Client) PublishReprocessRequest(req *types.ReprocessRequest) error {
	return c.publish(SubjectReprocess, req)
}

func (c *Client) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// SubscribeSessionEvents delivers session events to handler. Without
// options the consumer starts at the oldest retained event.
func (c *Client) SubscribeSessionEvents(handler func(*types.SessionEvent), opts ...nats.SubOpt) (*nats.Subscription, error) {
	sub, err := c.js.Subscribe(SubjectSessionDecoded, func(msg *nats.Msg) {
		ev, err := decodeSessionEvent(msg.Data)
		if err != nil {
			log.Printf("Error unmarshaling session event: %v", err)
			return
		}
		handler(ev)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// SubscribeReprocess delivers reprocess requests to handler through a
// durable queue consumer, so each request reaches one reprocessor and is
// acknowledged only after the handler returns
func (c *Client) SubscribeReprocess(durable string, handler func(*types.ReprocessRequest) error) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(SubjectReprocess, durable, func(msg *nats.Msg) {
		req, err := decodeReprocessRequest(msg.Data)
		if err != nil {
			log.Printf("Error unmarshaling reprocess request: %v", err)
			// a malformed request will never succeed
			_ = msg.Term()
			return
		}
		if err := handler(req); err != nil {
			log.Printf("Reprocess request failed: %v", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

func decodeSessionEvent(data []byte) (*types.SessionEvent, error) {
	var ev types.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("session event without session id")
	}
	return &ev, nil
}

func decodeReprocessRequest(data []byte) (*types.ReprocessRequest, error) {
	var req types.ReprocessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
