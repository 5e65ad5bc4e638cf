// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeWasmPlugin(t *testing.T) {
	// The raw maps below mirror the shapes the HCL parser produces: snake
	// case keys and nested blocks as single-element slices of maps.
	cases := map[string]struct {
		raw      map[string]interface{}
		expected *WasmPluginEntry
		wantErr  string
	}{
		"full entry from hcl shapes": {
			raw: map[string]interface{}{
				"kind":        "wasm-plugin",
				"name":        "acl-check",
				"namespace":   "prod",
				"url":         "https://plugins.example.com/acl.wasm",
				"sha256":      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
				"phase":       "authz",
				"priority":    1000,
				"plugin_name": "acl",
				"fail_open":   true,
				"ports":       []interface{}{8080, 8443},
				"plugin_config": []map[string]interface{}{
					{
						"default_action": "deny",
						"rules": []map[string]interface{}{
							{"path": "/admin"},
						},
					},
				},
				"vm_config": []map[string]interface{}{
					{
						"runtime": "wasmtime",
						"env": []map[string]interface{}{
							{"name": "MODE", "value": "audit"},
							{"name": "PATH", "value_from": "host"},
						},
					},
				},
				"selector": []map[string]interface{}{
					{
						"match_labels": []map[string]interface{}{
							{"app": "web"},
						},
					},
				},
				"meta": []map[string]interface{}{
					{"team": "platform"},
				},
			},
			expected: &WasmPluginEntry{
				Kind:       WasmPlugin,
				Name:       "acl-check",
				Namespace:  "prod",
				URL:        "https://plugins.example.com/acl.wasm",
				SHA256:     "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
				Phase:      PhaseAuthZ,
				Priority:   int64Ptr(1000),
				PluginName: "acl",
				FailOpen:   true,
				Ports:      []int{8080, 8443},
				PluginConfig: map[string]interface{}{
					"default_action": "deny",
					"rules":          map[string]interface{}{"path": "/admin"},
				},
				VMConfig: WasmVMConfig{
					Runtime: "wasmtime",
					Env: []EnvVar{
						{Name: "MODE", Value: "audit"},
						{Name: "PATH", ValueFrom: EnvValueHost},
					},
				},
				Selector: &WorkloadSelector{
					MatchLabels: map[string]string{"app": "web"},
				},
				Meta: map[string]string{"team": "platform"},
			},
		},
		"camel case keys from json": {
			raw: map[string]interface{}{
				"Kind":       "wasm-plugin",
				"Name":       "openid-connect",
				"URL":        "file:///etc/wasm/oidc.wasm",
				"Phase":      "authn",
				"PluginName": "oidc",
			},
			expected: &WasmPluginEntry{
				Kind:       WasmPlugin,
				Name:       "openid-connect",
				URL:        "file:///etc/wasm/oidc.wasm",
				Phase:      PhaseAuthN,
				PluginName: "oidc",
			},
		},
		"index fields are tolerated": {
			raw: map[string]interface{}{
				"Kind":        "wasm-plugin",
				"Name":        "x",
				"URL":         "file:///etc/wasm/x.wasm",
				"CreateIndex": 4,
				"ModifyIndex": 9,
			},
			expected: &WasmPluginEntry{
				Kind: WasmPlugin,
				Name: "x",
				URL:  "file:///etc/wasm/x.wasm",
			},
		},
		"missing kind": {
			raw: map[string]interface{}{
				"name": "x",
			},
			wantErr: "does not contain a kind/Kind key",
		},
		"kind is not a string": {
			raw: map[string]interface{}{
				"kind": 7,
				"name": "x",
			},
			wantErr: "Kind value in payload is not a string",
		},
		"unknown kind": {
			raw: map[string]interface{}{
				"kind": "service-defaults",
				"name": "x",
			},
			wantErr: "invalid config entry kind: service-defaults",
		},
		"unknown keys are rejected": {
			raw: map[string]interface{}{
				"kind":     "wasm-plugin",
				"name":     "x",
				"url":      "file:///etc/wasm/x.wasm",
				"priority": 1,
				"priorty":  2,
			},
			wantErr: `invalid config key "priorty"`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			entry, err := DecodeWasmPlugin(tc.raw)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, entry)
		})
	}
}
