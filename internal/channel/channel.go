// Package channel routes outbound messages to chat adapters (Telegram,
// Discord, email) and funnels inbound messages from any of them into one
// queue for the agent loop.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// InboundMessage is something the user said on any channel.
type InboundMessage struct {
	Channel string
	ChatID  string
	Sender  string
	Text    string
}

// Sender is one outbound adapter.
type Sender interface {
	Name() string
	Send(ctx context.Context, chatID, text string) error
}

// Listener is an adapter that also receives; Run blocks until ctx ends.
type Listener interface {
	Run(ctx context.Context, inbox chan<- InboundMessage) error
}

// Router dispatches by channel name. It satisfies the reconciler's send
// function signature.
type Router struct {
	mu      sync.RWMutex
	senders map[string]Sender
	log     *slog.Logger
}

func NewRouter() *Router {
	return &Router{
		senders: make(map[string]Sender),
		log:     slog.Default().With("component", "channel"),
	}
}

func (r *Router) Register(s Sender) {
	r.mu.Lock()
	r.senders[strings.ToLower(s.Name())] = s
	r.mu.Unlock()
}

func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Send(ctx context.Context, channelName, chatID, text string) error {
	r.mu.RLock()
	s, ok := r.senders[strings.ToLower(strings.TrimSpace(channelName))]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel adapter registered for %q", channelName)
	}
	if err := s.Send(ctx, chatID, text); err != nil {
		return fmt.Errorf("%s send: %w", s.Name(), err)
	}
	return nil
}
