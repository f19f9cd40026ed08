package sse

import (
	"context"
	"sync"

	"ms-raffle/internal/models"
)

// AvailabilityEmitter fans availability changes out to connected SSE clients.
type AvailabilityEmitter struct {
	clients     []chan models.AvailabilityEvent
	clientMutex sync.RWMutex
}

func NewAvailabilityEmitter() *AvailabilityEmitter {
	return &AvailabilityEmitter{}
}

// Subscribe registers a client until ctx is done, then closes its channel.
func (e *AvailabilityEmitter) Subscribe(ctx context.Context) <-chan models.AvailabilityEvent {
	clientChan := make(chan models.AvailabilityEvent, 10)

	e.clientMutex.Lock()
	e.clients = append(e.clients, clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(clientChan)
	}()

	return clientChan
}

// Emit broadcasts without blocking; a client with a full buffer misses the event.
func (e *AvailabilityEmitter) Emit(event models.AvailabilityEvent) {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, clientChan := range e.clients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

// PublishAvailability lets the emitter act as the service notifier when
// no broker is configured.
func (e *AvailabilityEmitter) PublishAvailability(_ context.Context, event models.AvailabilityEvent) error {
	e.Emit(event)
	return nil
}

func (e *AvailabilityEmitter) removeClient(clientChan chan models.AvailabilityEvent) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	for i, ch := range e.clients {
		if ch == clientChan {
			e.clients = append(e.clients[:i], e.clients[i+1:]...)
			close(clientChan)
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (e *AvailabilityEmitter) ClientCount() int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients)
}

// Close disconnects every client. Open streams see their channel close and return.
func (e *AvailabilityEmitter) Close() {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	for _, ch := range e.clients {
		close(ch)
	}
	e.clients = nil
}
