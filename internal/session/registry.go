// Package session tracks live websocket connections and two-party
// conversation membership. It is deliberately independent of persistence:
// the coordinator composes it with the storage engine.
package session

import (
	"sort"
	"strings"
	"sync"
)

// Conn is the write side of a live connection. Implementations must be safe
// for concurrent WriteJSON calls, since broadcasts originate from other
// connections' read loops.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// PairKey builds the order-independent key of a two-party conversation: both
// identities sorted and joined with ":".
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Registry holds the identity-to-connection map (one live connection per
// identity, latest registration wins) and the chat-pair participant sets.
// All mutations and broadcast iterations run under one lock so a set is never
// iterated mid-mutation.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Conn
	chats       map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Conn),
		chats:       make(map[string]map[string]struct{}),
	}
}

// Subscribe registers conn under identity and adds identity to the pair's
// participant set, creating the pair entry if absent. A previous connection
// for the same identity is replaced.
func (r *Registry) Subscribe(identity, peer string, conn Conn) {
	key := PairKey(identity, peer)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[identity] = conn
	participants, ok := r.chats[key]
	if !ok {
		participants = make(map[string]struct{})
		r.chats[key] = participants
	}
	participants[identity] = struct{}{}
}

// Unregister removes identity from the connection map and from every pair's
// participant set.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, identity)
	for _, participants := range r.chats {
		delete(participants, identity)
	}
}

// IsParticipant reports whether identity has joined the pair.
func (r *Registry) IsParticipant(pairKey, identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants, ok := r.chats[pairKey]
	if !ok {
		return false
	}
	_, ok = participants[identity]
	return ok
}

// Broadcast sends payload to every participant of the pair that currently has
// a live connection, and returns how many deliveries were attempted.
func (r *Registry) Broadcast(pairKey string, payload interface{}) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for identity := range r.chats[pairKey] {
		if conn, ok := r.connections[identity]; ok {
			if err := conn.WriteJSON(payload); err == nil {
				sent++
			}
		}
	}
	return sent
}

// ConnCount returns the number of live registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
