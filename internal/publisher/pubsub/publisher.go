// Package pubsub publishes artifact notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// topicHandle is the slice of *pubsub.Topic the publisher uses.
type topicHandle interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type clientTopic struct {
	t *pubsub.Topic
}

func (c clientTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return c.t.Publish(ctx, msg)
}

func (c clientTopic) Stop() { c.t.Stop() }

// Publisher sends JSON payloads to Pub/Sub topics, one handle per topic.
type Publisher struct {
	mu      sync.Mutex
	topics  map[string]topicHandle
	open    func(id string) topicHandle
	closeFn func() error
	source  string
}

// New connects to projectID. source is attached to every message as an attribute.
func New(ctx context.Context, projectID, source string) (*Publisher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return newPublisher(func(id string) topicHandle {
		return clientTopic{t: client.Topic(id)}
	}, client.Close, source), nil
}

func newPublisher(open func(id string) topicHandle, closeFn func() error, source string) *Publisher {
	return &Publisher{
		topics:  make(map[string]topicHandle),
		open:    open,
		closeFn: closeFn,
		source:  source,
	}
}

func (p *Publisher) topic(id string) topicHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = p.open(id)
		p.topics[id] = t
	}
	return t
}

// Publish marshals the payload to JSON and waits for the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if p.source != "" {
		msg.Attributes["source"] = p.source
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
	p.mu.Unlock()
	if p.closeFn == nil {
		return nil
	}
	if err := p.closeFn(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
