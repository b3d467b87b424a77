// Package processor hosts the compiled-in, registered-by-name processor
// implementations referenced by a pipeline's `processor` artifact file
// (spec.md §9: dynamic processor loading is out of scope; processors are
// compiled in and looked up by name).
package processor

import (
	"fmt"
	"sync"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

var (
	mu       sync.RWMutex
	registry = map[string]interfaces.Processor{}
)

// Register adds a compiled-in processor under name. Called from package
// init functions of concrete processor implementations.
func Register(name string, p interfaces.Processor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = p
}

// Get looks up a processor by the name recorded in a pipeline's
// `processor` artifact file.
func Get(name string) (interfaces.Processor, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no processor registered under name %q", name)
	}
	return p, nil
}

func init() {
	Register("passthrough", PassthroughProcessor{})
}
