// internal/devices/devices.go
package devices

import (
	"encoding/json"
	"strings"

	jmes "github.com/jmespath/go-jmespath"
)

// Descriptor describes one entry of the remote machine catalog. A name
// may denote either a concrete unit ("H1-1") or a whole device family
// ("H1"); batching parameters are only legal against concrete units.
type Descriptor struct {
	Name                string
	NQubits             int
	NClassicalRegisters int
	MaxShots            int
	SystemType          string
	Emulator            string
	SyntaxChecker       string
	Batching            bool
	Wasm                bool

	// Raw keeps the full catalog entry; the schema grows without
	// notice so callers can reach fields this struct does not model.
	Raw map[string]any
}

// wireDescriptor covers the stable part of the catalog schema.
type wireDescriptor struct {
	Name                string `json:"name"`
	NQubits             int    `json:"n_qubits"`
	NClassicalRegisters int    `json:"n_classical_registers"`
	NShots              int    `json:"n_shots"`
	SystemType          string `json:"system_type"`
	Emulator            string `json:"emulator"`
	SyntaxChecker       string `json:"syntax_checker"`
}

// capability reads a boolean capability flag, trying the documented
// top-level key first and then the nested capabilities map some
// deployments use instead.
func capability(raw map[string]any, name string) bool {
	for _, expr := range []string{name, "capabilities." + name} {
		v, err := jmes.Search(expr, raw)
		if err != nil {
			continue
		}
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func decodeDescriptor(raw map[string]any) Descriptor {
	var wd wireDescriptor
	if bb, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(bb, &wd)
	}
	return Descriptor{
		Name:                wd.Name,
		NQubits:             wd.NQubits,
		NClassicalRegisters: wd.NClassicalRegisters,
		MaxShots:            wd.NShots,
		SystemType:          wd.SystemType,
		Emulator:            wd.Emulator,
		SyntaxChecker:       wd.SyntaxChecker,
		Batching:            capability(raw, "batching"),
		Wasm:                capability(raw, "wasm"),
		Raw:                 raw,
	}
}

// isFamilyOf reports whether name denotes the family that concrete
// extends, e.g. "H1" vs "H1-1" or "H1-1E".
func isFamilyOf(name, concrete string) bool {
	return concrete != name && strings.HasPrefix(concrete, name+"-")
}

// BatchingUnsupportedError is the local rejection for batch parameters
// addressed at a device that cannot take them. Raised before any
// network call; the remote service would reject such requests anyway.
type BatchingUnsupportedError struct {
	Device string
	Reason string
}

func (e *BatchingUnsupportedError) Error() string {
	return "batching unsupported on " + e.Device + ": " + e.Reason
}
