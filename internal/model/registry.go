package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LayerConstructor builds a layer from its configuration record.
type LayerConstructor func(config LayerConfig) (Layer, error)

var registry = struct {
	sync.RWMutex
	ctors map[string]LayerConstructor
}{ctors: make(map[string]LayerConstructor)}

func init() {
	RegisterLayer("Dense", newDense)
	RegisterLayer("Dropout", newDropout)
	RegisterLayer("Activation", newActivationLayer)
	RegisterLayer("Flatten", newFlatten)
	RegisterLayer("BatchNormalization", newBatchNormalization)
	RegisterLayer("InputLayer", newInputLayer)
}

// RegisterLayer adds a constructor for className. Lookups ignore case.
func RegisterLayer(className string, ctor LayerConstructor) {
	registry.Lock()
	defer registry.Unlock()
	registry.ctors[strings.ToLower(className)] = ctor
}

// LayerRegistered reports whether className can be constructed.
func LayerRegistered(className string) bool {
	registry.RLock()
	defer registry.RUnlock()
	_, ok := registry.ctors[strings.ToLower(className)]
	return ok
}

// RegisteredLayers returns the registered class names, lowercased and sorted.
func RegisteredLayers() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.ctors))
	for name := range registry.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLayer constructs a layer of the given class from config.
func NewLayer(className string, config LayerConfig) (Layer, error) {
	registry.RLock()
	ctor, ok := registry.ctors[strings.ToLower(className)]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownLayer, className, strings.Join(RegisteredLayers(), ", "))
	}
	layer, err := ctor(config)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", className, err)
	}
	return layer, nil
}
