package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Pub/sub channels for linking activity
const (
	ChannelContextLinked = "flowsync:context:linked"
	ChannelBranchMerged  = "flowsync:context:merged"
)

// PubSubService fans linking outcomes out over Redis so dashboards and
// other instances observe record creation, promotion and merges live.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   map[string][]MessageHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// MessageHandler is a callback for handling pub/sub messages
type MessageHandler func(channel string, message *PubSubMessage)

// PubSubMessage is the envelope published for every linking outcome.
type PubSubMessage struct {
	Type       string                 `json:"type"` // "record_created", "record_promoted", "reasoning_attached", "branch_merged"
	ProjectID  string                 `json:"projectId"`
	Branch     string                 `json:"branch,omitempty"`
	ContextID  string                 `json:"contextId,omitempty"`
	InstanceID string                 `json:"instanceId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		handlers:   make(map[string][]MessageHandler),
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish sends a message on the given channel. Failures are logged, never
// propagated: notification is best-effort and must not fail a link.
func (s *PubSubService) Publish(ctx context.Context, channel string, msg *PubSubMessage) {
	if s == nil || s.redis == nil {
		return
	}
	msg.InstanceID = s.instanceID

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal message: %v", err)
		return
	}

	if err := s.redis.Client().Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to publish on %s: %v", channel, err)
	}
}

// Subscribe registers a handler for a channel and starts the listener on
// first use.
func (s *PubSubService) Subscribe(channel string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[channel] = append(s.handlers[channel], handler)

	if s.pubsub == nil {
		s.pubsub = s.redis.Client().Subscribe(s.ctx, channel)
		go s.listen()
	} else {
		if err := s.pubsub.Subscribe(s.ctx, channel); err != nil {
			log.Printf("⚠️ [PUBSUB] Failed to subscribe to %s: %v", channel, err)
		}
	}
}

func (s *PubSubService) listen() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}

			var msg PubSubMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Printf("⚠️ [PUBSUB] Failed to decode message on %s: %v", raw.Channel, err)
				continue
			}

			// Skip our own messages
			if msg.InstanceID == s.instanceID {
				continue
			}

			s.mu.RLock()
			handlers := s.handlers[raw.Channel]
			s.mu.RUnlock()

			for _, handler := range handlers {
				handler(raw.Channel, &msg)
			}
		}
	}
}

// Close stops the listener and the subscription.
func (s *PubSubService) Close() {
	s.cancel()
	if s.pubsub != nil {
		s.pubsub.Close()
	}
}
