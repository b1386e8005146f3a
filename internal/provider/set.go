package provider

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/cost"
	"github.com/sells-group/geo-analyzer/internal/ratelimit"
	"github.com/sells-group/geo-analyzer/internal/secrets"
	"github.com/sells-group/geo-analyzer/pkg/anthropic"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

// Set holds the enabled providers keyed by stable id. Iteration order is
// sorted by key. A provider absent from the set is disabled.
type Set struct {
	clients map[string]*Client
	keys    []string
}

// NewSet builds a Set. A later client with a duplicate key replaces the
// earlier one.
func NewSet(clients ...*Client) *Set {
	s := &Set{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		s.clients[c.Key()] = c
	}
	for k := range s.clients {
		s.keys = append(s.keys, k)
	}
	sort.Strings(s.keys)
	return s
}

// Len returns the number of enabled providers.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the provider keys in order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Get returns the client for key.
func (s *Set) Get(key string) (*Client, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.clients[key]
	return c, ok
}

// Clients returns the clients in key order.
func (s *Set) Clients() []*Client {
	out := make([]*Client, 0, s.Len())
	for _, k := range s.Keys() {
		out = append(out, s.clients[k])
	}
	return out
}

// Build creates clients for every enabled provider whose credential is
// registered in reg. Providers without a credential are skipped.
func Build(cfgs []config.ProviderConfig, reg *secrets.Registry, costs *cost.Calculator) (*Set, error) {
	var clients []*Client
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		if !reg.Has(pc.Secret) {
			zap.L().Info("provider: credential missing, provider disabled",
				zap.String("provider", pc.Key),
				zap.String("secret", pc.Secret),
			)
			continue
		}

		var backend Backend
		switch pc.Kind {
		case "", "openai":
			backend = OpenAIBackend{Client: chat.NewClient(pc.Endpoint, chat.WithTimeout(pc.Timeout))}
		case "anthropic":
			var opts []anthropic.Option
			if pc.Endpoint != "" {
				opts = append(opts, anthropic.WithBaseURL(pc.Endpoint))
			}
			backend = AnthropicBackend{Client: anthropic.NewClient(opts...)}
		default:
			return nil, eris.Errorf("provider: %s: unknown kind %q", pc.Key, pc.Kind)
		}

		clients = append(clients, NewClient(Spec{
			Key:        pc.Key,
			Label:      pc.Label,
			SecretName: pc.Secret,
			Model:      pc.Model,
			Timeout:    pc.Timeout,
			Defaults: Options{
				Temperature: pc.Temperature,
				TopP:        pc.TopP,
				MaxTokens:   pc.MaxTokens,
			},
			FinishReasons: pc.FinishReasons,
		}, reg, ratelimit.New(pc.Capacity, pc.RefillPerMinute), backend, costs))
	}

	set := NewSet(clients...)
	zap.L().Info("provider: catalog built", zap.Strings("enabled", set.Keys()))
	return set, nil
}
