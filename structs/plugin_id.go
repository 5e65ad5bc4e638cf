// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

// PluginID uniquely identifies a wasm-plugin entry by namespace and name.
type PluginID struct {
	Namespace string
	Name      string
}

func NewPluginID(namespace, name string) PluginID {
	return PluginID{
		Namespace: NamespaceOrDefault(namespace),
		Name:      name,
	}
}

func (id PluginID) String() string {
	return id.Namespace + "/" + id.Name
}

// Less orders ids by namespace, then name. This is the tie-break order used
// when two entries share a phase and priority, so it must stay a strict
// lexical comparison.
func (id PluginID) Less(other PluginID) bool {
	if id.Namespace != other.Namespace {
		return id.Namespace < other.Namespace
	}
	return id.Name < other.Name
}
