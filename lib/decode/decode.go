// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package decode provides tools for customizing the decoding of configuration
// blocks into runtime structures.
package decode

import (
	"reflect"
	"strings"

	"github.com/mitchellh/reflectwalk"
)

// HookTranslateKeys is a mapstructure decode hook which translates keys in a
// map to their canonical value.
//
// Any struct field with a field tag of `alias` may be loaded from any of the
// values keyed by any of the aliases. A field may have one or more alias.
// Aliases must be lowercase, as keys are compared case-insensitive.
//
// Example alias tag:
//
//	MyField []string `alias:"old_field_name,otherfieldname"`
//
// This hook does not work for fields which are renamed by either the
// `mapstructure` or `json` struct tags. Fields can not be renamed and aliased
// at the same time.
func HookTranslateKeys(_, to reflect.Type, data interface{}) (interface{}, error) {
	// Return immediately if target is not a struct, as only structs can have
	// field tags. If the target is a pointer to a struct, mapstructure will
	// call the hook again with the struct.
	if to.Kind() != reflect.Struct {
		return data, nil
	}

	// Avoid doing any work if data is not a map
	source, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}

	rules := translationsForType(to)
	for k, v := range source {
		canonKey, ok := rules[strings.ToLower(k)]
		if !ok {
			continue
		}
		delete(source, k)

		// if there is a value for the canonical key then keep it
		if _, ok := source[canonKey]; ok {
			continue
		}
		source[canonKey] = v
	}
	return data, nil
}

// translationsForType returns a map of aliases to the canonical field name
// for the struct type to.
func translationsForType(to reflect.Type) map[string]string {
	translations := map[string]string{}
	for i := 0; i < to.NumField(); i++ {
		field := to.Field(i)
		tag, ok := field.Tag.Lookup("alias")
		if !ok {
			continue
		}

		canonKey := strings.ToLower(field.Name)
		for _, alias := range strings.Split(tag, ",") {
			translations[strings.ToLower(alias)] = canonKey
		}
	}
	return translations
}

// HookWeakDecodeFromSlice looks for []map[string]interface{} and
// []interface{} in the source data. If the target is not a slice or array it
// attempts to unpack 1 item out of the slice. If there are more items the
// source data is left unmodified, allowing mapstructure to handle and report
// the decode error caused by mismatched types.
//
// The HCL block syntax produces a []map[string]interface{} for every block,
// even when the target is a single struct or an opaque map, which is why
// this unpacking is necessary.
func HookWeakDecodeFromSlice(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() == reflect.Slice || to.Kind() == reflect.Array {
		return data, nil
	}
	switch d := data.(type) {
	case []map[string]interface{}:
		switch {
		case len(d) != 1:
			return data, nil
		case to == typeOfEmptyInterface:
			return unSlice(d[0])
		default:
			return d[0], nil
		}

	// a slice may be encoded as []interface{} in some cases
	case []interface{}:
		switch {
		case len(d) != 1:
			return data, nil
		case to == typeOfEmptyInterface:
			return unSlice(d[0])
		default:
			return d[0], nil
		}
	}
	return data, nil
}

var typeOfEmptyInterface = reflect.TypeOf((*interface{})(nil)).Elem()

func unSlice(data interface{}) (interface{}, error) {
	err := reflectwalk.Walk(data, &unSliceWalker{})
	return data, err
}

type unSliceWalker struct{}

func (u *unSliceWalker) Map(_ reflect.Value) error {
	return nil
}

func (u *unSliceWalker) MapElem(m, k, v reflect.Value) error {
	if !v.IsValid() || v.Kind() != reflect.Interface {
		return nil
	}

	v = v.Elem() // unpack the value from the interface{}
	if v.Kind() != reflect.Slice || v.Len() != 1 {
		return nil
	}

	first := v.Index(0)
	// The value should always be assignable, but double check to avoid a panic.
	if !first.Type().AssignableTo(m.Type().Elem()) {
		return nil
	}
	m.SetMapIndex(k, first)
	return nil
}
