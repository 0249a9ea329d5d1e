// Package command maps link command ids onto the motor controller.
package command

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"escore/core"
	"escore/protocol"
)

var (
	ErrDuplicateID   = errors.New("command id already registered")
	ErrDuplicateName = errors.New("command name already registered")
)

// Error ties a handler failure to its command
type Error struct {
	ID   uint16
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return "command " + core.Utoa(uint32(e.ID)) + ": " + e.Err.Error()
	}
	return e.Name + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Handler decodes its own arguments from data
type Handler func(data *[]byte) error

// Command is one entry of the command dictionary
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "rpm=%i"
	Handler Handler
}

// Registry holds commands and responses by id
type Registry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// Register adds a command under a fixed id. Ids and names must be unique.
func (r *Registry) Register(id uint16, name, format string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[id]; ok {
		return &Error{ID: id, Name: name, Err: ErrDuplicateID}
	}
	if _, ok := r.nameToID[name]; ok {
		return &Error{ID: id, Name: name, Err: ErrDuplicateName}
	}
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: h}
	r.nameToID[name] = id
	return nil
}

// RegisterResponse records a response format; responses have no handler
func (r *Registry) RegisterResponse(id uint16, name, format string) error {
	return r.Register(id, name, format, nil)
}

func (r *Registry) Lookup(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[id]
	return c, ok
}

func (r *Registry) ID(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler for id. It matches protocol.CommandHandler.
func (r *Registry) Dispatch(id uint16, data *[]byte) error {
	c, ok := r.Lookup(id)
	if !ok || c.Handler == nil {
		return &Error{ID: id, Err: protocol.ErrUnknownCommand}
	}
	if err := c.Handler(data); err != nil {
		return &Error{ID: id, Name: c.Name, Err: err}
	}
	return nil
}

// Dictionary lists every entry as "id name format", one per line, by id
func (r *Registry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		c := r.commands[uint16(id)]
		b.WriteString(core.Utoa(uint32(c.ID)) + " " + c.Name)
		if c.Format != "" {
			b.WriteString(" " + c.Format)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
