// Package registry maps {t402 version, CAIP-2 network pattern, scheme} to
// scheme adapters. Patterns may use "*" globs ("eip155:*", "*"); resolution
// prefers an exact network entry over a pattern match. Registration happens
// once at startup; lookups are read-only and safe for concurrent use.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/t402-io/t402-go/schemes"
	"github.com/t402-io/t402-go/types"
)

// Registry holds facilitator scheme adapters keyed by version, network
// pattern and scheme.
type Registry struct {
	// version -> network pattern -> scheme -> adapter
	entries map[int]map[string]map[string]schemes.Facilitator
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[int]map[string]map[string]schemes.Facilitator)}
}

// Register adds an adapter for a version and network pattern. The pattern is
// normalized if it is a legacy alias; registering the same tuple twice
// replaces the earlier adapter.
func (r *Registry) Register(version int, networkPattern string, adapter schemes.Facilitator) error {
	if adapter == nil {
		return fmt.Errorf("registry: nil adapter for %q", networkPattern)
	}
	if networkPattern == "" {
		return fmt.Errorf("registry: empty network pattern")
	}
	if !strings.Contains(networkPattern, "*") {
		networkPattern = types.NormalizeNetwork(networkPattern)
	}

	byPattern, ok := r.entries[version]
	if !ok {
		byPattern = make(map[string]map[string]schemes.Facilitator)
		r.entries[version] = byPattern
	}
	byScheme, ok := byPattern[networkPattern]
	if !ok {
		byScheme = make(map[string]schemes.Facilitator)
		byPattern[networkPattern] = byScheme
	}
	byScheme[adapter.Scheme()] = adapter
	return nil
}

// Resolve finds the adapter for a version, network and scheme. An exact
// network entry wins over any pattern; among patterns the longest (most
// specific) match wins.
func (r *Registry) Resolve(version int, network, scheme string) (schemes.Facilitator, bool) {
	byPattern, ok := r.entries[version]
	if !ok {
		return nil, false
	}
	network = types.NormalizeNetwork(network)

	if byScheme, ok := byPattern[network]; ok {
		if adapter, ok := byScheme[scheme]; ok {
			return adapter, true
		}
	}

	var (
		best    schemes.Facilitator
		bestLen = -1
	)
	for pattern, byScheme := range byPattern {
		if !strings.Contains(pattern, "*") || !matchesPattern(pattern, network) {
			continue
		}
		adapter, ok := byScheme[scheme]
		if !ok {
			continue
		}
		if len(pattern) > bestLen {
			best = adapter
			bestLen = len(pattern)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// matchesPattern reports whether a CAIP-2 network matches a glob pattern.
// Only trailing-star family patterns and the full wildcard are supported.
func matchesPattern(pattern, network string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(network, prefix)
	}
	return pattern == network
}

// SupportedKinds returns the discovery tuples for /supported. Wildcard
// patterns are skipped; they describe routing, not a concrete network a
// client can pay on. Output is sorted for stable responses.
func (r *Registry) SupportedKinds() []types.SupportedKind {
	var kinds []types.SupportedKind
	for version, byPattern := range r.entries {
		for pattern, byScheme := range byPattern {
			if strings.Contains(pattern, "*") {
				continue
			}
			for scheme, adapter := range byScheme {
				kinds = append(kinds, types.SupportedKind{
					T402Version: version,
					Scheme:      scheme,
					Network:     pattern,
					Extra:       adapter.GetExtra(pattern),
				})
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		if kinds[i].Scheme != kinds[j].Scheme {
			return kinds[i].Scheme < kinds[j].Scheme
		}
		return kinds[i].T402Version < kinds[j].T402Version
	})
	return kinds
}

// SignersByFamily groups the facilitator's managed signer addresses by CAIP
// family pattern, for the /supported signers section.
func (r *Registry) SignersByFamily() map[string][]string {
	signers := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for _, byPattern := range r.entries {
		for pattern, byScheme := range byPattern {
			if strings.Contains(pattern, "*") {
				continue
			}
			for _, adapter := range byScheme {
				family := adapter.CaipFamily()
				for _, addr := range adapter.GetSigners(pattern) {
					if seen[family] == nil {
						seen[family] = make(map[string]bool)
					}
					if seen[family][addr] {
						continue
					}
					seen[family][addr] = true
					signers[family] = append(signers[family], addr)
				}
			}
		}
	}
	for family := range signers {
		sort.Strings(signers[family])
	}
	return signers
}
