package notebook

import (
	"sync"
)

// SessionRegistry maps each connected client to its display name.
// Single-writer-per-key discipline; concurrent reads are safe.
type SessionRegistry struct {
	mutex sync.RWMutex
	// connection id -> display name
	displayNames map[Id]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		displayNames: map[Id]string{},
	}
}

// idempotent per connection id. Overwrites a prior display name.
func (self *SessionRegistry) Register(connectionId Id, displayName string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.displayNames[connectionId] = displayName
}

func (self *SessionRegistry) ResolveDisplayName(connectionId Id) (string, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	displayName, ok := self.displayNames[connectionId]
	return displayName, ok
}

// called exactly once on disconnect, after the connection's room
// membership is torn down, so departure events can still read the name
func (self *SessionRegistry) Unregister(connectionId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.displayNames, connectionId)
}

func (self *SessionRegistry) Count() int {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	return len(self.displayNames)
}
