// Package hosts is the ingress gateway's per-Git-host extension point
// (spec §4.1): one adapter per supported host, each able to read its
// own event-kind/action/delivery-id conventions out of a raw webhook
// body.
package hosts

import "github.com/Ava-Prime/gitguard-sub000/internal/model"

// Adapter parses a host-native webhook body into the three fields the
// ingress gateway needs to route it: event kind, action, and a
// delivery id usable for deduplication. The generic gateway headers
// (X-Event-Kind, X-Delivery-ID) take priority when present; Adapter.Parse
// is the fallback, and the source of truth for Action, which no header
// carries.
type Adapter interface {
	Name() string
	Parse(body []byte) (kind model.EventKind, action string, deliveryID string, err error)
}

// Registry looks up an Adapter by host name, as named in the
// POST /webhooks/{host} path segment.
type Registry map[string]Adapter

// NewRegistry builds a Registry from a set of adapters, keyed by Name().
func NewRegistry(adapters ...Adapter) Registry {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		reg[a.Name()] = a
	}
	return reg
}
