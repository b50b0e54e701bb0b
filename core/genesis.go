package core

// genesis.go – the genesis document and its loader. The file is JSON: a
// timestamp, an optional previous-hash seed and one payload per declared
// service, each handed to that service's genesis hook exactly once.

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServiceParam is one service's genesis payload.
type ServiceParam struct {
	Name    string     `json:"name"`
	Payload JSONString `json:"payload"`
}

// Genesis describes block 0.
type Genesis struct {
	Timestamp uint64         `json:"timestamp"`
	PrevHash  Hash           `json:"prevhash"`
	Services  []ServiceParam `json:"services"`
}

// LoadGenesis parses a genesis document from disk.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewProtocolError(KindSystem, fmt.Errorf("read genesis: %w", err))
	}
	var genesis Genesis
	if err := json.Unmarshal(raw, &genesis); err != nil {
		return nil, NewProtocolError(KindSystem, fmt.Errorf("parse genesis: %w", err))
	}
	return &genesis, nil
}

// ServicePayload returns the payload declared for the named service, or the
// empty document.
func (g *Genesis) ServicePayload(name string) JSONString {
	for _, s := range g.Services {
		if s.Name == name {
			return s.Payload
		}
	}
	return ""
}
