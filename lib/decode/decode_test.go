// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package decode

import (
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/require"
)

type translateExample struct {
	FieldDefaultCanonical string `alias:"first"`
}

func TestHookTranslateKeys(t *testing.T) {
	cases := map[string]struct {
		data     map[string]interface{}
		expected translateExample
	}{
		"canonical keys are passed through": {
			data: map[string]interface{}{
				"fielddefaultcanonical": "value1",
			},
			expected: translateExample{
				FieldDefaultCanonical: "value1",
			},
		},
		"alias keys are translated": {
			data: map[string]interface{}{
				"first": "value1",
			},
			expected: translateExample{
				FieldDefaultCanonical: "value1",
			},
		},
		"alias keys are translated case insensitively": {
			data: map[string]interface{}{
				"FIRST": "value1",
			},
			expected: translateExample{
				FieldDefaultCanonical: "value1",
			},
		},
		"canonical key wins over alias": {
			data: map[string]interface{}{
				"fielddefaultcanonical": "canon",
				"first":                 "alias",
			},
			expected: translateExample{
				FieldDefaultCanonical: "canon",
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			actual := translateExample{}
			decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				DecodeHook: HookTranslateKeys,
				Result:     &actual,
			})
			require.NoError(t, err)
			require.NoError(t, decoder.Decode(tc.data))
			require.Equal(t, tc.expected, actual)
		})
	}
}

type nested struct {
	Value string
}

type sliceExample struct {
	Single nested
	Many   []nested
	Opaque map[string]interface{}
}

func TestHookWeakDecodeFromSlice(t *testing.T) {
	source := map[string]interface{}{
		"single": []map[string]interface{}{
			{"value": "one"},
		},
		"many": []map[string]interface{}{
			{"value": "a"},
			{"value": "b"},
		},
		"opaque": []map[string]interface{}{
			{
				"inner": []map[string]interface{}{
					{"leaf": "x"},
				},
			},
		},
	}

	actual := sliceExample{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: HookWeakDecodeFromSlice,
		Result:     &actual,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(source))

	require.Equal(t, nested{Value: "one"}, actual.Single)
	require.Equal(t, []nested{{Value: "a"}, {Value: "b"}}, actual.Many)
	require.Equal(t, map[string]interface{}{
		"inner": map[string]interface{}{"leaf": "x"},
	}, actual.Opaque)
}

func TestHookWeakDecodeFromSlice_DoesNotModifyMultiItemSlices(t *testing.T) {
	out, err := HookWeakDecodeFromSlice(nil, typeOfEmptyInterface, []interface{}{1, 2})
	require.NoError(t, err)
	require.Equal(t, []interface{}{1, 2}, out)
}
