// Package llm is the text-in/text-out contract to a chat-completion service
// and the registry of backends that implement it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Backend identifiers.
const (
	BackendOpenAI = "openai"
	BackendEino   = "eino"
)

var (
	// ErrUnsupportedBackend is returned by New for an unknown backend name.
	ErrUnsupportedBackend = errors.New("llm: unsupported backend")
	// ErrMalformedResponse means the service answered 2xx but without a usable completion.
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Message    string // error.message from the body, if any
	RequestID  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: HTTP %d", e.StatusCode)
}

// Request is one completion call: a system instruction and a user prompt.
type Request struct {
	System string
	Prompt string
}

// Backend issues a single completion and returns the raw text.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config is shared by all backends.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration // per request
	PoolSize    int           // reusable HTTP clients
	Temperature *float32
}

// Factory builds a Backend from Config.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering the same name
// twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("llm: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("llm: Register called twice for backend " + name)
	}
	registry[name] = f
}

// New builds the backend registered under name.
func New(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
	return f(cfg)
}

// Registered reports whether a backend exists under name.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Backends returns the sorted registered names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
