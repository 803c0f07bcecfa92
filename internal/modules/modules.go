// Package modules defines the subscriber contract and the registry the main
// binary instantiates modules from. A module declares interest in each
// dispatched message, optionally requesting enrichment properties, and
// relays the interesting ones to its downstream sink.
package modules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
)

// Enrichment properties a module may request from Interested.
const (
	PropPageTitle   = "pagetitle"
	PropThreadLog   = "threadlog"
	PropThreadTitle = "threadtitle"
)

// Env is what a module receives at setup: its raw config block and the
// shared caches.
type Env struct {
	Logger   zerolog.Logger
	Config   *yaml.Node
	Messages *loader.Cache
	Cache    *cache.Enrichment
}

// Module is one subscriber.
//
// Interested must be pure and synchronous: it reports whether the module
// wants the message and which enrichment properties, if any, must be fetched
// before Execute. Execute may block; the dispatcher recovers its panics.
type Module interface {
	Name() string
	Setup(env *Env) error
	Interested(m *models.Message) (bool, []string)
	Execute(ctx context.Context, m *models.Message) error
	Kill() error
}

// Factory builds one unconfigured module instance.
type Factory func() Module

var registry = map[string]Factory{}

// Register adds a module factory under a name. Called from module init.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("module %q registered twice", name))
	}
	registry[name] = factory
}

// New instantiates a registered module.
func New(name string) (Module, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", name)
	}
	return factory(), nil
}
