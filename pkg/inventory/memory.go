// Package inventory provides in-process implementations of the VM attribute
// inventory the evaluator queries. Production deployments point the engine
// at the platform's real inventory service; the in-memory store here backs
// the CLI and tests via a YAML facts file.
package inventory

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// VMFacts are the per-VM attributes the evaluator can match on.
type VMFacts struct {
	Tags []string `yaml:"tags"`
	Type string   `yaml:"type"`
}

// MemoryInventory is a thread-safe in-memory fact store implementing
// domain.Inventory.
type MemoryInventory struct {
	mu  sync.RWMutex
	vms map[string]VMFacts
}

// NewMemoryInventory creates an empty inventory.
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{vms: make(map[string]VMFacts)}
}

// SetFacts stores or replaces the facts for an identity.
func (m *MemoryInventory) SetFacts(identity string, facts VMFacts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vms[identity] = VMFacts{
		Tags: append([]string(nil), facts.Tags...),
		Type: facts.Type,
	}
}

// Remove deletes an identity's facts.
func (m *MemoryInventory) Remove(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vms, identity)
}

// Tags returns a copy of the identity's tags, empty for unknown identities.
func (m *MemoryInventory) Tags(identity string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	facts, ok := m.vms[identity]
	if !ok || len(facts.Tags) == 0 {
		return nil
	}
	return append([]string(nil), facts.Tags...)
}

// Type returns the identity's type label, empty for unknown identities.
func (m *MemoryInventory) Type(identity string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vms[identity].Type
}

// LoadFactsFile builds an inventory from a YAML file mapping VM identity to
// facts:
//
//	work-vm:
//	  tags: [whonix-updatevm]
//	  type: AppVM
func LoadFactsFile(path string) (*MemoryInventory, error) {
	// #nosec G304 -- facts path is operator supplied at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts file: %w", err)
	}

	var raw map[string]VMFacts
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse facts file %s: %w", path, err)
	}

	inv := NewMemoryInventory()
	for identity, facts := range raw {
		inv.SetFacts(identity, facts)
	}
	return inv, nil
}
