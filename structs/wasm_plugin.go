// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/hashstructure/v2"
)

const (
	// WasmPlugin is the kind string for WASM plugin configuration entries.
	WasmPlugin string = "wasm-plugin"

	// DefaultNamespace is assigned to entries that do not name a namespace.
	DefaultNamespace = "default"

	// DefaultProtocol is the filter protocol used when none is configured.
	DefaultProtocol = "http"
)

const (
	metaMaxKeyPairs    = 64
	metaKeyMaxLength   = 128
	metaValueMaxLength = 512
)

// supportedRuntimes are the Wasm runtimes a proxy can host, in order of
// preference. The first entry is the default.
var supportedRuntimes = []string{"v8", "wasmtime", "wamr", "wavm"}

// supportedSchemes are the URL schemes accepted for module references. A URL
// without a scheme is treated as an oci image reference.
var supportedSchemes = []string{"file", "http", "https", "oci"}

var (
	validDNSLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	validSHA256   = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// Phase selects the stage of the proxy's processing pipeline a plugin's
// filter is injected at, relative to the built-in filters.
type Phase string

const (
	// PhaseUnspecified defers placement to the end of the pipeline, directly
	// before the terminal router stage.
	PhaseUnspecified Phase = ""

	// PhaseAuthN injects the filter before the proxy's authentication
	// filters.
	PhaseAuthN Phase = "authn"

	// PhaseAuthZ injects the filter after authentication and before the
	// proxy's authorization filters.
	PhaseAuthZ Phase = "authz"

	// PhaseStats injects the filter after authorization and before the
	// proxy's telemetry filters.
	PhaseStats Phase = "stats"
)

func (p Phase) validate() error {
	switch p {
	case PhaseUnspecified, PhaseAuthN, PhaseAuthZ, PhaseStats:
		return nil
	}
	return fmt.Errorf("Invalid Phase %q. Must be one of %q, %q, or %q, or left empty.", p,
		PhaseAuthN,
		PhaseAuthZ,
		PhaseStats,
	)
}

// PullPolicy controls when the module retriever fetches an oci image for an
// entry. It is carried through for the retriever and never interpreted here.
type PullPolicy string

const (
	// PullPolicyUnspecified defers to the retriever's default behavior,
	// which is equivalent to PullPolicyIfNotPresent.
	PullPolicyUnspecified PullPolicy = ""

	// PullPolicyIfNotPresent fetches only when the image is not already
	// present locally.
	PullPolicyIfNotPresent PullPolicy = "if-not-present"

	// PullPolicyAlways re-fetches whenever the image tag may have moved.
	PullPolicyAlways PullPolicy = "always"
)

func (p PullPolicy) validate() error {
	switch p {
	case PullPolicyUnspecified, PullPolicyIfNotPresent, PullPolicyAlways:
		return nil
	}
	return fmt.Errorf("Invalid PullPolicy %q. Must be one of %q or %q, or left empty.", p,
		PullPolicyIfNotPresent,
		PullPolicyAlways,
	)
}

// ListenerType restricts which listeners a plugin's filter is attached to.
type ListenerType string

const (
	// ListenerTypeAny attaches the filter to inbound and outbound listeners.
	ListenerTypeAny ListenerType = ""

	// ListenerTypeInbound attaches the filter to inbound listeners only.
	ListenerTypeInbound ListenerType = "inbound"

	// ListenerTypeOutbound attaches the filter to outbound listeners only.
	ListenerTypeOutbound ListenerType = "outbound"
)

func (l ListenerType) validate() error {
	switch l {
	case ListenerTypeAny, ListenerTypeInbound, ListenerTypeOutbound:
		return nil
	}
	return fmt.Errorf("Invalid ListenerType %q. Must be one of %q or %q, or left empty.", l,
		ListenerTypeInbound,
		ListenerTypeOutbound,
	)
}

// EnvValueFrom designates where the value of a VM environment variable comes
// from.
type EnvValueFrom string

const (
	// EnvValueInline uses the literal Value from the entry.
	EnvValueInline EnvValueFrom = "inline"

	// EnvValueHost forwards the variable from the proxy host's environment.
	EnvValueHost EnvValueFrom = "host"
)

func (e EnvValueFrom) validate() error {
	switch e {
	case EnvValueInline, EnvValueHost:
		return nil
	}
	return fmt.Errorf("Invalid ValueFrom %q. Must be one of %q or %q.", e,
		EnvValueInline,
		EnvValueHost,
	)
}

// WasmPluginEntry is the wasm-plugin configuration entry. Each entry
// references one WASM module and describes where its filter lands in the
// processing chain of the workloads the entry applies to.
type WasmPluginEntry struct {
	// Kind of the config entry. Must be "wasm-plugin".
	Kind string

	// Name of the entry, unique within its namespace.
	Name string

	// Namespace scopes the entry. Defaults to "default".
	Namespace string `json:",omitempty"`

	// URL references the module binary. Supported schemes are file, http,
	// https and oci; a URL without a scheme is treated as an oci image
	// reference. Retrieval of the module is handled outside this process.
	URL string `json:",omitempty"`

	// SHA256 is the hex checksum of the module binary. Required for http
	// and https modules, where the proxy verifies the fetched bytes.
	// Optional content pin for oci images.
	SHA256 string `json:",omitempty"`

	// PullPolicy controls when oci images are re-fetched by the module
	// retriever. Ignored for other schemes.
	PullPolicy PullPolicy `json:",omitempty" alias:"pull_policy"`

	// PullSecret names the credential secret the retriever presents to
	// private oci registries. Opaque to this process.
	PullSecret string `json:",omitempty" alias:"pull_secret"`

	// Protocol is the kind of filter to produce, "http" or "tcp".
	// Defaults to "http".
	Protocol string `json:",omitempty"`

	// ListenerType restricts the filter to inbound or outbound listeners.
	// Unset attaches to both.
	ListenerType ListenerType `json:",omitempty" alias:"listener_type"`

	// Ports restricts the filter to listeners on the given ports. Carried
	// through for the filter injector; empty means all ports.
	Ports []int `json:",omitempty"`

	// Phase selects the pipeline stage the filter is injected at. Entries
	// sharing a phase are ordered by Priority.
	Phase Phase `json:",omitempty"`

	// Priority orders entries within the same phase, highest first. Unset
	// is equivalent to 0. Entries that still tie are ordered by namespace,
	// then name.
	Priority *int64 `json:",omitempty"`

	// PluginName is passed to the VM to select the plugin within the
	// module. Defaults to Name.
	PluginName string `json:",omitempty" alias:"plugin_name"`

	// PluginConfig is handed to the plugin on startup. The contents are
	// passed through verbatim and never interpreted here.
	PluginConfig map[string]interface{} `json:",omitempty" alias:"plugin_config"`

	// FailOpen bypasses the filter when the plugin errors at runtime
	// instead of failing requests closed.
	FailOpen bool `json:",omitempty" alias:"fail_open"`

	// VMConfig tunes the VM the module runs in.
	VMConfig WasmVMConfig `json:",omitempty" alias:"vm_config"`

	// Selector restricts which workloads receive this entry. A nil
	// selector applies the entry to every workload in scope. The labels
	// are evaluated by the workload matching layer, not here.
	Selector *WorkloadSelector `json:",omitempty"`

	Meta map[string]string `json:",omitempty"`
	Hash uint64            `json:",omitempty" hash:"ignore"`

	EntryIndex `hash:"ignore"`
}

// WasmVMConfig configures the VM a plugin's module runs in.
type WasmVMConfig struct {
	// Runtime is the Wasm runtime type, one of: v8, wasmtime, wamr, or
	// wavm. Defaults to v8.
	Runtime string `json:",omitempty"`

	// Env holds environment variables exposed to the VM through WASI.
	Env []EnvVar `json:",omitempty"`
}

// EnvVar is one environment variable made available inside the plugin VM.
type EnvVar struct {
	// Name of the variable. Names must be unique within the entry.
	Name string

	// ValueFrom selects inline or host sourcing. Defaults to inline.
	ValueFrom EnvValueFrom `json:",omitempty" alias:"value_from"`

	// Value is the literal value for inline variables. Must be left empty
	// for host sourced variables.
	Value string `json:",omitempty"`
}

// WorkloadSelector restricts the workloads an entry applies to.
type WorkloadSelector struct {
	// MatchLabels selects workloads whose labels contain every listed
	// pair.
	MatchLabels map[string]string `json:",omitempty" alias:"match_labels"`
}

// EntryIndex tracks the store indexes at which an entry was created and last
// modified.
type EntryIndex struct {
	CreateIndex uint64 `json:",omitempty"`
	ModifyIndex uint64 `json:",omitempty"`
}

func (e *WasmPluginEntry) GetKind() string { return WasmPlugin }

func (e *WasmPluginEntry) GetName() string {
	if e == nil {
		return ""
	}
	return e.Name
}

func (e *WasmPluginEntry) GetNamespace() string {
	if e == nil {
		return ""
	}
	return e.Namespace
}

func (e *WasmPluginEntry) GetMeta() map[string]string {
	if e == nil {
		return nil
	}
	return e.Meta
}

func (e *WasmPluginEntry) GetEntryIndex() *EntryIndex { return &e.EntryIndex }
func (e *WasmPluginEntry) GetHash() uint64            { return e.Hash }
func (e *WasmPluginEntry) SetHash(h uint64)           { e.Hash = h }

// PluginID returns the identity the entry is stored and ordered under.
func (e *WasmPluginEntry) PluginID() PluginID {
	return PluginID{Namespace: e.Namespace, Name: e.Name}
}

// PriorityOrDefault returns the effective ordering priority, treating an
// unset Priority as 0.
func (e *WasmPluginEntry) PriorityOrDefault() int64 {
	if e.Priority == nil {
		return 0
	}
	return *e.Priority
}

// Clone returns a deep copy of the entry.
func (e *WasmPluginEntry) Clone() (*WasmPluginEntry, error) {
	e2, err := copystructure.Copy(e)
	if err != nil {
		return nil, err
	}
	return e2.(*WasmPluginEntry), nil
}

// Normalize applies defaults, canonicalizes string fields, and computes the
// content hash. It must be called before an entry is validated or stored.
func (e *WasmPluginEntry) Normalize() error {
	if e == nil {
		return fmt.Errorf("config entry is nil")
	}

	e.Kind = WasmPlugin
	e.Namespace = NamespaceOrDefault(e.Namespace)
	e.Protocol = strings.ToLower(e.Protocol)
	if e.Protocol == "" {
		e.Protocol = DefaultProtocol
	}
	e.Phase = Phase(strings.ToLower(string(e.Phase)))
	e.PullPolicy = PullPolicy(strings.ToLower(string(e.PullPolicy)))
	e.ListenerType = ListenerType(strings.ToLower(string(e.ListenerType)))
	e.SHA256 = strings.ToLower(e.SHA256)

	if e.PluginName == "" {
		e.PluginName = e.Name
	}
	if e.VMConfig.Runtime == "" {
		e.VMConfig.Runtime = supportedRuntimes[0]
	}
	for i := range e.VMConfig.Env {
		if e.VMConfig.Env[i].ValueFrom == "" {
			e.VMConfig.Env[i].ValueFrom = EnvValueInline
		}
	}

	h, err := HashEntry(e)
	if err != nil {
		return err
	}
	e.Hash = h

	return nil
}

// Validate ensures the entry is acceptable or returns the accumulated
// problems. Entries must be normalized first.
func (e *WasmPluginEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("Name is required")
	}

	var resultErr error
	if !validDNSLabel.MatchString(e.Name) {
		resultErr = multierror.Append(resultErr, fmt.Errorf("Name %q must be a valid DNS label", e.Name))
	}
	if !validDNSLabel.MatchString(e.Namespace) {
		resultErr = multierror.Append(resultErr, fmt.Errorf("Namespace %q must be a valid DNS label", e.Namespace))
	}

	if err := e.Phase.validate(); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}
	if err := e.PullPolicy.validate(); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}
	if err := e.ListenerType.validate(); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}
	if e.Protocol != "tcp" && e.Protocol != "http" {
		resultErr = multierror.Append(resultErr, fmt.Errorf(`unsupported Protocol %q, expected "tcp" or "http"`, e.Protocol))
	}
	if err := validateRuntime(e.VMConfig.Runtime); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}

	if err := e.validateModuleRef(); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}

	for _, port := range e.Ports {
		if port < 1 || port > 65535 {
			resultErr = multierror.Append(resultErr, fmt.Errorf("invalid port %d, must be in the range 1-65535", port))
		}
	}

	seen := make(map[string]struct{}, len(e.VMConfig.Env))
	for _, env := range e.VMConfig.Env {
		if env.Name == "" {
			resultErr = multierror.Append(resultErr, fmt.Errorf("environment variable Name is required"))
			continue
		}
		if _, dup := seen[env.Name]; dup {
			resultErr = multierror.Append(resultErr, fmt.Errorf("duplicate environment variable %q", env.Name))
		}
		seen[env.Name] = struct{}{}
		if err := env.ValueFrom.validate(); err != nil {
			resultErr = multierror.Append(resultErr, fmt.Errorf("environment variable %q: %w", env.Name, err))
		}
		if env.ValueFrom == EnvValueHost && env.Value != "" {
			resultErr = multierror.Append(resultErr, fmt.Errorf("environment variable %q is host sourced and must not set a Value", env.Name))
		}
	}

	if err := validateEntryMeta(e.Meta); err != nil {
		resultErr = multierror.Append(resultErr, err)
	}

	return resultErr
}

// validateModuleRef checks the URL, checksum, and pull fields that together
// reference the module binary.
func (e *WasmPluginEntry) validateModuleRef() error {
	var resultErr error

	if e.URL == "" {
		resultErr = multierror.Append(resultErr, fmt.Errorf("URL is required"))
		return resultErr
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		resultErr = multierror.Append(resultErr, fmt.Errorf("invalid URL %q: %w", e.URL, err))
		return resultErr
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "oci"
	}
	if !isSupportedScheme(scheme) {
		resultErr = multierror.Append(resultErr, fmt.Errorf("unsupported URL scheme %q, expected one of: %s",
			u.Scheme, strings.Join(supportedSchemes, ", ")))
		return resultErr
	}

	if e.SHA256 != "" && !validSHA256.MatchString(e.SHA256) {
		resultErr = multierror.Append(resultErr, fmt.Errorf("SHA256 must be 64 hex characters"))
	}

	switch scheme {
	case "http", "https":
		if e.SHA256 == "" {
			resultErr = multierror.Append(resultErr, fmt.Errorf("SHA256 checksum is required for http and https URLs"))
		}
		if e.PullPolicy != PullPolicyUnspecified {
			resultErr = multierror.Append(resultErr, fmt.Errorf("PullPolicy applies only to oci URLs"))
		}
	case "file":
		if u.Path == "" && u.Opaque == "" && u.Host == "" {
			resultErr = multierror.Append(resultErr, fmt.Errorf("file URL %q has no path", e.URL))
		}
		if e.PullPolicy != PullPolicyUnspecified {
			resultErr = multierror.Append(resultErr, fmt.Errorf("PullPolicy applies only to oci URLs"))
		}
	}

	if e.PullSecret != "" && scheme != "oci" {
		resultErr = multierror.Append(resultErr, fmt.Errorf("PullSecret applies only to oci URLs"))
	}

	return resultErr
}

func isSupportedScheme(s string) bool {
	for _, scheme := range supportedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func validateRuntime(s string) error {
	for _, rt := range supportedRuntimes {
		if s == rt {
			return nil
		}
	}
	return fmt.Errorf("unsupported runtime %q", s)
}

func validateEntryMeta(meta map[string]string) error {
	var err error
	if len(meta) > metaMaxKeyPairs {
		err = multierror.Append(err, fmt.Errorf(
			"Meta exceeds maximum element count %d", metaMaxKeyPairs))
	}
	for k, v := range meta {
		if len(k) > metaKeyMaxLength {
			err = multierror.Append(err, fmt.Errorf(
				"Meta key %q exceeds maximum length %d", k, metaKeyMaxLength))
		}
		if len(v) > metaValueMaxLength {
			err = multierror.Append(err, fmt.Errorf(
				"Meta value for key %q exceeds maximum length %d", k, metaValueMaxLength))
		}
	}
	return err
}

// HashEntry computes the content hash used to detect entry changes. Fields
// tagged hash:"ignore" do not contribute to the hash.
func HashEntry(e *WasmPluginEntry) (uint64, error) {
	return hashstructure.Hash(e, hashstructure.FormatV2, nil)
}

// NamespaceOrDefault returns the canonical form of ns, mapping the empty
// string to the default namespace.
func NamespaceOrDefault(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
