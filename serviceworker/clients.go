package serviceworker

import (
	"sync"
	"time"
)

const (
	clientBuffer = 16

	DefaultClientIdle = 30 * time.Minute
)

// Client is a page controlled by the worker. Messages posted to a client are
// dropped when its buffer is full until the page drains them.
type Client struct {
	ID string

	mu         sync.Mutex
	controller string
	lastSeen   time.Time
	messages   chan any
}

func (c *Client) Controller() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.controller
}

func (c *Client) Messages() <-chan any {
	return c.messages
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return now.Sub(c.lastSeen)
}

// Clients tracks the pages that registered with the worker. A client that
// neither registers nor drains its messages for the idle period is forgotten.
type Clients struct {
	mu      sync.Mutex
	clients map[string]*Client
	idle    time.Duration
	now     func() time.Time
}

func NewClients() *Clients {
	return &Clients{
		clients: make(map[string]*Client),
		idle:    DefaultClientIdle,
		now:     time.Now,
	}
}

func (cs *Clients) Register(id string) *Client {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	cs.pruneLocked(now)

	if c, ok := cs.clients[id]; ok {
		c.touch(now)
		return c
	}

	c := &Client{ID: id, lastSeen: now, messages: make(chan any, clientBuffer)}
	cs.clients[id] = c
	return c
}

func (cs *Clients) Get(id string) (*Client, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.clients[id]
	return c, ok
}

func (cs *Clients) Forget(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c, ok := cs.clients[id]; ok {
		delete(cs.clients, id)
		close(c.messages)
	}
}

func (cs *Clients) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return len(cs.clients)
}

// Prune forgets every client idle for longer than the idle period.
func (cs *Clients) Prune() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.pruneLocked(cs.now())
}

func (cs *Clients) pruneLocked(now time.Time) int {
	n := 0
	for id, c := range cs.clients {
		if c.idleSince(now) <= cs.idle {
			continue
		}

		delete(cs.clients, id)
		close(c.messages)
		n++
	}

	return n
}

// Drain returns every message queued for the client without blocking.
func (cs *Clients) Drain(id string) ([]any, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.clients[id]
	if !ok {
		return nil, false
	}
	c.touch(cs.now())

	msgs := make([]any, 0, len(c.messages))
	for {
		select {
		case m := <-c.messages:
			msgs = append(msgs, m)
		default:
			return msgs, true
		}
	}
}

// Claim makes the worker with the given version the controller of every
// registered client.
func (cs *Clients) Claim(version string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, c := range cs.clients {
		c.mu.Lock()
		c.controller = version
		c.mu.Unlock()
	}

	return len(cs.clients)
}

func (cs *Clients) Post(id string, msg any) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.clients[id]
	if !ok {
		return false
	}

	select {
	case c.messages <- msg:
		return true
	default:
		return false
	}
}
