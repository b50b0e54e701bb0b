package core

// service_mapping.go – the default name→constructor mapping over the
// built-in services. Nodes with custom service sets provide their own
// ServiceMapping.

import (
	"fmt"
)

type serviceConstructor func(sdk *ServiceSDK) (Service, error)

// DefaultServiceMapping resolves the built-in services.
type DefaultServiceMapping struct {
	constructors map[string]serviceConstructor
	names        []string
}

// NewDefaultServiceMapping registers every built-in service.
func NewDefaultServiceMapping() *DefaultServiceMapping {
	m := &DefaultServiceMapping{constructors: make(map[string]serviceConstructor)}
	m.Register(AssetServiceName, func(sdk *ServiceSDK) (Service, error) { return NewAssetService(sdk) })
	m.Register(MetadataServiceName, func(sdk *ServiceSDK) (Service, error) { return NewMetadataService(sdk) })
	m.Register(UtilServiceName, func(sdk *ServiceSDK) (Service, error) { return NewUtilService(sdk) })
	m.Register(MultiSigServiceName, func(sdk *ServiceSDK) (Service, error) { return NewMultiSigService(sdk) })
	m.Register(ContractServiceName, func(sdk *ServiceSDK) (Service, error) { return NewContractService(sdk) })
	return m
}

// Register adds (or overrides) a constructor. Registration order fixes hook
// order, so it must be deterministic across nodes.
func (m *DefaultServiceMapping) Register(name string, ctor serviceConstructor) {
	if _, exists := m.constructors[name]; !exists {
		m.names = append(m.names, name)
	}
	m.constructors[name] = ctor
}

// GetService implements ServiceMapping.
func (m *DefaultServiceMapping) GetService(name string, sdk *ServiceSDK) (Service, error) {
	ctor, ok := m.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFoundService, name)
	}
	return ctor(sdk)
}

// ServiceNames implements ServiceMapping.
func (m *DefaultServiceMapping) ServiceNames() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}
