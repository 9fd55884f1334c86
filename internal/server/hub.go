// Package server coordinates client registration, message broadcast, and
// connection cleanup for the chat WebSocket system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// membership is a register or unregister request; done is closed once the
// Run loop has applied it.
type membership struct {
	client *Client
	done   chan struct{}
}

// Hub is the connection registry: the live set of clients keyed by
// connection id. Membership changes and broadcasts are applied by the Run
// loop, one at a time, so broadcasts are delivered in the order submitted.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan BroadcastMessage
	register   chan membership
	unregister chan membership
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan membership),
		unregister: make(chan membership),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register adds client to the live set and starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	return h.submit(h.register, client)
}

// Remove drops client from the live set and closes its send channel.
// Removing a client that is not registered is a no-op.
func (h *Hub) Remove(client *Client) {
	h.submit(h.unregister, client)
}

func (h *Hub) submit(ch chan membership, client *Client) bool {
	req := membership{client: client, done: make(chan struct{})}
	select {
	case ch <- req:
	case <-h.ctx.Done():
		return false
	}
	select {
	case <-req.done:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// BroadcastToAll queues payload for every live client.
func (h *Hub) BroadcastToAll(payload []byte) {
	h.enqueue(BroadcastMessage{Payload: payload})
}

// BroadcastToOthers queues payload for every live client except sender.
func (h *Hub) BroadcastToOthers(sender *Client, payload []byte) {
	h.enqueue(BroadcastMessage{Sender: sender, Payload: payload})
}

func (h *Hub) enqueue(msg BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		h.log.Debug("Hub stopped, dropping broadcast")
	}
}

// SendTo delivers payload to a single registered client without going
// through the broadcast queue.
func (h *Hub) SendTo(client *Client, payload []byte) bool {
	return h.safeSend(client, payload)
}

// Count returns the number of live clients.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	registered, exists := h.clients[client.id]
	if !exists || registered != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration, unregistration,
// and message broadcasting. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case req := <-h.register:
			h.addClient(req.client)
			close(req.done)

		case req := <-h.unregister:
			h.removeClient(req.client)
			close(req.done)

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	if client == nil {
		h.log.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("Client registered", "conn", client.id, "addr", client.addr, "clients", clientCount)

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	if client == nil {
		return
	}
	h.mutex.Lock()
	registered, ok := h.clients[client.id]
	if !ok || registered != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.log.Info("Client unregistered", "conn", client.id, "addr", client.addr, "clients", clientCount)
}

// handleBroadcast sends a broadcast to its targets and drops clients whose
// send buffer is full.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	clients := h.getClientSnapshot()
	targetCount := h.calculateTargetCount(clients, broadcastMsg.Sender)

	h.log.Debug("Broadcasting message", "targets", targetCount)

	clientsToRemove := h.broadcastToClients(clients, broadcastMsg)
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return lo.Values(h.clients)
}

// calculateTargetCount determines how many clients will receive the broadcast
func (h *Hub) calculateTargetCount(clients []*Client, sender *Client) int {
	if sender == nil {
		return len(clients)
	}
	return lo.CountBy(clients, func(c *Client) bool { return c != sender })
}

// broadcastToClients sends the message to all targeted clients and returns failed clients
func (h *Hub) broadcastToClients(clients []*Client, broadcastMsg BroadcastMessage) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if broadcastMsg.Sender != nil && client == broadcastMsg.Sender {
			continue
		}
		if !h.safeSend(client, broadcastMsg.Payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and closes their channels.
// Their read pump then sees the connection close and runs the normal disconnect path.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if registered, exists := h.clients[client.id]; exists && registered == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("Client removed due to full send buffer", "conn", client.id, "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every live connection and send channel.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := lo.Values(h.clients)
	for _, client := range clients {
		delete(h.clients, client.id)
		client.closed = true
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn("Error closing client connection", "addr", client.addr, "error", err)
				}
			}
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
