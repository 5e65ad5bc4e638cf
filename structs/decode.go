// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/wasmchain/lib/decode"
)

// DecodeWasmPlugin decodes the raw map form of a wasm-plugin entry, as
// produced by HCL or JSON parsing, into a typed entry. Snake case aliases
// are translated, single block slices are flattened, and unknown keys are
// rejected. The returned entry is not normalized or validated.
func DecodeWasmPlugin(raw map[string]interface{}) (*WasmPluginEntry, error) {
	kindVal, ok := raw["Kind"]
	if !ok {
		kindVal, ok = raw["kind"]
	}
	if !ok {
		return nil, fmt.Errorf("Payload does not contain a kind/Kind key at the top level")
	}
	kind, ok := kindVal.(string)
	if !ok {
		return nil, fmt.Errorf("Kind value in payload is not a string")
	}
	if kind != WasmPlugin {
		return nil, fmt.Errorf("invalid config entry kind: %s", kind)
	}

	var entry WasmPluginEntry
	var md mapstructure.Metadata
	decodeConf := &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decode.HookWeakDecodeFromSlice,
			decode.HookTranslateKeys,
		),
		Metadata:         &md,
		Result:           &entry,
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(decodeConf)
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}

	if err := validateUnusedKeys(md.Unused); err != nil {
		return nil, err
	}
	return &entry, nil
}

func validateUnusedKeys(unused []string) error {
	var err error

	for _, k := range unused {
		switch {
		case k == "CreateIndex" || k == "ModifyIndex":
		case k == "kind" || k == "Kind":
			// The kind field is used to select the target type, but doesn't
			// need to exist on the target.
		default:
			err = multierror.Append(err, fmt.Errorf("invalid config key %q", k))
		}
	}
	return err
}
