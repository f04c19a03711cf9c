package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// BroadcastChannel receives every event.
	BroadcastChannel = "support:events"
	publishTimeout   = 2 * time.Second
)

// SessionChannel is the per-session channel the transport layer
// subscribes to in order to notify the requester and agent.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("support_session:%s", sessionID)
}

// RedisPublisher publishes events over Redis pub/sub from a background
// goroutine. Emit never blocks; when the buffer is full the event is
// dropped and logged.
type RedisPublisher struct {
	client  *redis.Client
	buffer  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped uint64
	mu      sync.Mutex
}

func NewRedisPublisher(client *redis.Client, bufferSize int) *RedisPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	p := &RedisPublisher{
		client: client,
		buffer: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *RedisPublisher) Emit(name string, payload Payload) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.buffer <- Event{Name: name, Payload: payload}:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		log.Printf("[EVENTS] publish buffer full, dropping %s for session %s", name, payload.SessionID)
	}
}

func (p *RedisPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case evt := <-p.buffer:
			p.publish(evt)
		case <-p.done:
			for {
				select {
				case evt := <-p.buffer:
					p.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[EVENTS] marshal %s: %v", evt.Name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, BroadcastChannel, data)
	if evt.Payload.SessionID != "" {
		pipe.Publish(ctx, SessionChannel(evt.Payload.SessionID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[EVENTS] publish %s for session %s: %v", evt.Name, evt.Payload.SessionID, err)
	}
}

// Close flushes buffered events and stops the publisher goroutine.
func (p *RedisPublisher) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
