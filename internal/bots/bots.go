// Package bots holds the static persona catalog. Bot configs never carry
// credentials; those belong to the provider clients built at startup.
package bots

import (
	"strings"

	"flowair/internal/providers"
)

type BotConfig struct {
	ID           string
	Name         string
	Category     string
	SystemPrompt string
	Provider     providers.Family
	// Model is optional; empty means the backend's configured default.
	Model string
}

const DefaultID = "general-assistant"

var defaultBot = BotConfig{
	ID:           DefaultID,
	Name:         "General Assistant",
	Category:     "General",
	SystemPrompt: "You are a helpful AI assistant. Provide accurate and helpful responses to user queries.",
	Provider:     providers.TextCompletion,
}

type Registry struct {
	ordered []BotConfig
	byKey   map[string]BotConfig
	def     BotConfig
}

// NewRegistry indexes bots by id and by display name. Later entries win on
// key collisions.
func NewRegistry(def BotConfig, list []BotConfig) *Registry {
	r := &Registry{
		ordered: make([]BotConfig, 0, len(list)),
		byKey:   make(map[string]BotConfig, len(list)*2),
		def:     def,
	}
	for _, b := range list {
		if !b.Provider.Valid() {
			b.Provider = providers.TextCompletion
		}
		r.ordered = append(r.ordered, b)
		r.byKey[normalize(b.ID)] = b
		r.byKey[normalize(b.Name)] = b
	}
	return r
}

// Default is the registry over the built-in catalog.
func Default() *Registry {
	return NewRegistry(defaultBot, catalog)
}

// Lookup never fails: unknown ids resolve to the default assistant.
func (r *Registry) Lookup(botType string) BotConfig {
	if b, ok := r.byKey[normalize(botType)]; ok {
		return b
	}
	return r.def
}

// Known reports whether botType names a catalog entry.
func (r *Registry) Known(botType string) bool {
	_, ok := r.byKey[normalize(botType)]
	return ok
}

func (r *Registry) List() []BotConfig {
	out := make([]BotConfig, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
