// Package checks holds the built-in check and action modules.
package checks

import "github.com/4dn-dcic/foursight-sub000/internal/registry"

// Register adds every built-in module to reg.
func Register(reg *registry.Registry) error {
	if err := registerSystem(reg); err != nil {
		return err
	}
	return registerTest(reg)
}

// Default returns a registry holding the built-in modules.
func Default() (*registry.Registry, error) {
	reg := registry.New()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
