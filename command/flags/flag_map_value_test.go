// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagMapValueSet(t *testing.T) {
	t.Parallel()

	t.Run("missing =", func(t *testing.T) {
		f := new(FlagMapValue)
		require.Error(t, f.Set("foo"))
	})

	t.Run("sets multiple", func(t *testing.T) {
		f := new(FlagMapValue)
		require.NoError(t, f.Set("oci://a=/tmp/a.wasm"))
		require.NoError(t, f.Set("oci://b=/tmp/b.wasm"))
		require.Equal(t, FlagMapValue{
			"oci://a": "/tmp/a.wasm",
			"oci://b": "/tmp/b.wasm",
		}, *f)
	})

	t.Run("splits on the first =", func(t *testing.T) {
		f := new(FlagMapValue)
		require.NoError(t, f.Set("key=a=b"))
		require.Equal(t, FlagMapValue{"key": "a=b"}, *f)
	})

	t.Run("overwrites", func(t *testing.T) {
		f := new(FlagMapValue)
		require.NoError(t, f.Set("foo=bar"))
		require.NoError(t, f.Set("foo=zip"))
		require.Equal(t, FlagMapValue{"foo": "zip"}, *f)
	})
}

func TestFlagMapValueMerge(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		src FlagMapValue
		dst map[string]string
		exp map[string]string
	}{
		"empty source": {
			dst: map[string]string{"key": "val"},
			exp: map[string]string{"key": "val"},
		},
		"empty destination": {
			src: map[string]string{"key": "val"},
			dst: make(map[string]string),
			exp: map[string]string{"key": "val"},
		},
		"destination wins on overlap": {
			src: map[string]string{"key1": "val1", "key2": "val2"},
			dst: map[string]string{"key1": "kept"},
			exp: map[string]string{"key1": "kept", "key2": "val2"},
		},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			c.src.Merge(c.dst)
			require.Equal(t, c.exp, c.dst)
		})
	}
}
