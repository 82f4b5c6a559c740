package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Module is the agent module that produced a stateful event.
type Module string

const (
	ModuleFIM           Module = "fim"
	ModuleInventory     Module = "inventory"
	ModuleSCA           Module = "sca"
	ModuleVulnerability Module = "vulnerability"
	ModuleCommand       Module = "command"
)

const (
	FIMIndex                = "wazuh-states-fim"
	InventoryNetworkIndex   = "wazuh-states-inventory-network"
	InventoryPackagesIndex  = "wazuh-states-inventory-packages"
	InventoryProcessesIndex = "wazuh-states-inventory-processes"
	InventorySystemIndex    = "wazuh-states-inventory-system"
	SCAIndex                = "wazuh-states-sca"
	VulnerabilityIndex      = "wazuh-states-vulnerabilities"
	CommandsIndex           = "wazuh-commands"

	InventoryNetworkType   = "network"
	InventoryPackagesType  = "package"
	InventoryProcessesType = "process"
	InventorySystemType    = "system"
)

var (
	ErrInvalidModule        = errors.New("invalid module name")
	ErrInvalidInventoryType = errors.New("invalid inventory module type")
)

var moduleIndices = map[Module]string{
	ModuleFIM:           FIMIndex,
	ModuleSCA:           SCAIndex,
	ModuleVulnerability: VulnerabilityIndex,
	ModuleCommand:       CommandsIndex,
}

var inventoryIndices = map[string]string{
	InventoryPackagesType:  InventoryPackagesIndex,
	InventoryProcessesType: InventoryProcessesIndex,
	InventoryNetworkType:   InventoryNetworkIndex,
	InventorySystemType:    InventorySystemIndex,
}

// IndexName resolves the destination index for a module and, for the
// inventory module, its type.
func IndexName(module Module, typ string) (string, error) {
	if module == ModuleInventory {
		if idx, ok := inventoryIndices[typ]; ok {
			return idx, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidInventoryType, typ)
	}
	if idx, ok := moduleIndices[module]; ok {
		return idx, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidModule, module)
}

type AgentHost struct {
	Architecture string   `json:"architecture,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	IP           []string `json:"ip,omitempty"`
	OS           *struct {
		Name     string `json:"name,omitempty"`
		Platform string `json:"platform,omitempty"`
		Version  string `json:"version,omitempty"`
		Type     string `json:"type,omitempty"`
	} `json:"os,omitempty"`
}

type Agent struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Groups  []string  `json:"groups"`
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Host    AgentHost `json:"host"`
}

// AgentMetadata is merged into every stateful event an agent sends.
type AgentMetadata struct {
	Agent Agent `json:"agent"`
}

// Header describes one stateful event in a request.
type Header struct {
	ID        string    `json:"id,omitempty"`
	Module    Module    `json:"module"`
	Type      string    `json:"type,omitempty"`
	Operation Operation `json:"operation,omitempty"`
}

// StatefulEvent carries the schema-less event data; the field set varies by
// module and type.
type StatefulEvent struct {
	Data map[string]any `json:"data"`
}

// MergeContent builds a record payload from agent metadata and event data.
// Event fields win on key collisions and nil values are dropped at every
// depth. A nil event yields nil content.
func MergeContent(meta AgentMetadata, event *StatefulEvent) (map[string]any, error) {
	if event == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode agent metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode agent metadata: %w", err)
	}
	for k, v := range dropNil(event.Data) {
		out[k] = v
	}
	return out, nil
}

func dropNil(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = dropNil(t)
		default:
			out[k] = v
		}
	}
	return out
}
