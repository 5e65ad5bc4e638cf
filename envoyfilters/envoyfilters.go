// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package envoyfilters materializes a resolved WASM plugin chain as Envoy
// filters. The chain order produced by placement is preserved: one named
// filter per entry, ready for the injector to splice into a listener's
// filter chain ahead of the terminal router filter.
//
// The builders perform no I/O. Remote modules are expressed as Envoy remote
// data sources fetched and checksum-verified by the proxy itself; oci
// modules must be staged to a local path by the module retriever before a
// filter can be built for them.
package envoyfilters

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_http_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/wasm/v3"
	envoy_http_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	envoy_network_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/wasm/v3"
	envoy_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/wasm/v3"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hashicorp/wasmchain/structs"
)

const (
	// HTTPWasmFilterName is the Envoy filter name prefix for http wasm
	// filters. The entry's id is appended so every filter in a chain has a
	// unique name.
	HTTPWasmFilterName = "envoy.filters.http.wasm"

	// NetworkWasmFilterName is the prefix for tcp wasm filters.
	NetworkWasmFilterName = "envoy.filters.network.wasm"
)

// Options carries the environment the builders need to reference module
// code from Envoy.
type Options struct {
	// FetchCluster names the Envoy cluster remote module fetches are sent
	// through. Envoy requires an explicit cluster to perform the DNS
	// lookup for a remote data source, so this must be set when the chain
	// contains http or https modules.
	FetchCluster string

	// FetchTimeout bounds a single remote fetch attempt. Defaults to one
	// second.
	FetchTimeout time.Duration

	// FetchRetries is the number of times Envoy retries a failed remote
	// fetch. Zero leaves retries disabled.
	FetchRetries int

	// ModulePaths maps entry URLs to local file paths for modules the
	// retriever has already staged. Entries found here are always loaded
	// from the local path, and oci modules can only be loaded this way.
	ModulePaths map[string]string
}

// BuildHTTPFilters returns one http wasm filter per http entry of the
// chain, preserving chain order. Entries that cannot be materialized are
// collected into the returned error and skipped, so one bad entry does not
// block the rest of the chain.
func BuildHTTPFilters(chain []*structs.WasmPluginEntry, opts Options) ([]*envoy_http_v3.HttpFilter, error) {
	var resultErr error

	filters := make([]*envoy_http_v3.HttpFilter, 0, len(chain))
	for _, e := range chain {
		if e.Protocol != "" && e.Protocol != "http" {
			continue
		}
		cfg, err := pluginConfig(e, opts)
		if err != nil {
			resultErr = multierror.Append(resultErr, fmt.Errorf("wasm plugin %s: %w", e.PluginID(), err))
			continue
		}
		filter, err := makeHTTPFilter(filterName(HTTPWasmFilterName, e), &envoy_http_wasm_v3.Wasm{Config: cfg})
		if err != nil {
			resultErr = multierror.Append(resultErr, fmt.Errorf("wasm plugin %s: %w", e.PluginID(), err))
			continue
		}
		filters = append(filters, filter)
	}
	return filters, resultErr
}

// BuildNetworkFilters is the tcp counterpart of BuildHTTPFilters.
func BuildNetworkFilters(chain []*structs.WasmPluginEntry, opts Options) ([]*envoy_listener_v3.Filter, error) {
	var resultErr error

	filters := make([]*envoy_listener_v3.Filter, 0, len(chain))
	for _, e := range chain {
		if e.Protocol != "tcp" {
			continue
		}
		cfg, err := pluginConfig(e, opts)
		if err != nil {
			resultErr = multierror.Append(resultErr, fmt.Errorf("wasm plugin %s: %w", e.PluginID(), err))
			continue
		}
		filter, err := makeFilter(filterName(NetworkWasmFilterName, e), &envoy_network_wasm_v3.Wasm{Config: cfg})
		if err != nil {
			resultErr = multierror.Append(resultErr, fmt.Errorf("wasm plugin %s: %w", e.PluginID(), err))
			continue
		}
		filters = append(filters, filter)
	}
	return filters, resultErr
}

func filterName(prefix string, e *structs.WasmPluginEntry) string {
	return fmt.Sprintf("%s/%s", prefix, e.PluginID())
}

// pluginConfig builds the envoy wasm plugin configuration shared by the
// http and tcp filter shapes.
func pluginConfig(e *structs.WasmPluginEntry, opts Options) (*envoy_wasm_v3.PluginConfig, error) {
	code, err := asyncDataSource(e, opts)
	if err != nil {
		return nil, err
	}

	var cfgData *anypb.Any
	if len(e.PluginConfig) > 0 {
		raw, err := json.Marshal(e.PluginConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to encode plugin configuration: %w", err)
		}
		cfgData, err = anypb.New(wrapperspb.String(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to encode plugin configuration: %w", err)
		}
	}

	var envVars *envoy_wasm_v3.EnvironmentVariables
	hostEnvKeys, keyValues := splitEnv(e.VMConfig.Env)
	if len(hostEnvKeys) > 0 || len(keyValues) > 0 {
		envVars = &envoy_wasm_v3.EnvironmentVariables{
			HostEnvKeys: hostEnvKeys,
			KeyValues:   keyValues,
		}
	}

	return &envoy_wasm_v3.PluginConfig{
		Name:   e.PluginID().String(),
		RootId: e.PluginName,
		Vm: &envoy_wasm_v3.PluginConfig_VmConfig{
			VmConfig: &envoy_wasm_v3.VmConfig{
				Runtime:              fmt.Sprintf("envoy.wasm.runtime.%s", e.VMConfig.Runtime),
				Code:                 code,
				EnvironmentVariables: envVars,
			},
		},
		Configuration: cfgData,
		FailOpen:      e.FailOpen,
	}, nil
}

func asyncDataSource(e *structs.WasmPluginEntry, opts Options) (*envoy_core_v3.AsyncDataSource, error) {
	// Modules already staged by the retriever are loaded from their local
	// path regardless of scheme.
	if path, ok := opts.ModulePaths[e.URL]; ok {
		return localDataSource(path), nil
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid module URL %q: %w", e.URL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "oci"
	}

	switch scheme {
	case "file":
		path := u.Path
		if u.Opaque != "" {
			path = u.Opaque
		}
		if u.Host != "" {
			path = u.Host + u.Path
		}
		return localDataSource(path), nil

	case "http", "https":
		// Envoy fetches the module itself and verifies the checksum, but
		// it needs an explicit upstream cluster to route the fetch through.
		if opts.FetchCluster == "" {
			return nil, fmt.Errorf("no fetch cluster configured for remote module %q", e.URL)
		}

		d := time.Second
		if opts.FetchTimeout > 0 {
			d = opts.FetchTimeout
		}

		return &envoy_core_v3.AsyncDataSource{
			Specifier: &envoy_core_v3.AsyncDataSource_Remote{
				Remote: &envoy_core_v3.RemoteDataSource{
					Sha256: e.SHA256,
					HttpUri: &envoy_core_v3.HttpUri{
						Uri: e.URL,
						HttpUpstreamType: &envoy_core_v3.HttpUri_Cluster{
							Cluster: opts.FetchCluster,
						},
						Timeout: &durationpb.Duration{Seconds: int64(d.Seconds())},
					},
					RetryPolicy: retryPolicy(opts),
				},
			},
		}, nil

	case "oci":
		return nil, fmt.Errorf("oci module %q has not been staged to a local path", e.URL)

	default:
		return nil, fmt.Errorf("unsupported module URL scheme %q", u.Scheme)
	}
}

func localDataSource(path string) *envoy_core_v3.AsyncDataSource {
	return &envoy_core_v3.AsyncDataSource{
		Specifier: &envoy_core_v3.AsyncDataSource_Local{
			Local: &envoy_core_v3.DataSource{
				Specifier: &envoy_core_v3.DataSource_Filename{
					Filename: path,
				},
			},
		},
	}
}

func retryPolicy(opts Options) *envoy_core_v3.RetryPolicy {
	if opts.FetchRetries <= 0 {
		return nil
	}
	return &envoy_core_v3.RetryPolicy{
		NumRetries: wrapperspb.UInt32(uint32(opts.FetchRetries)),
	}
}

func splitEnv(env []structs.EnvVar) ([]string, map[string]string) {
	var hostEnvKeys []string
	var keyValues map[string]string
	for _, v := range env {
		switch v.ValueFrom {
		case structs.EnvValueHost:
			hostEnvKeys = append(hostEnvKeys, v.Name)
		default:
			if keyValues == nil {
				keyValues = make(map[string]string)
			}
			keyValues[v.Name] = v.Value
		}
	}
	return hostEnvKeys, keyValues
}

// makeHTTPFilter generates an Envoy HTTP filter from the given proto message.
func makeHTTPFilter(name string, cfg proto.Message) (*envoy_http_v3.HttpFilter, error) {
	any, err := anypb.New(cfg)
	if err != nil {
		return nil, err
	}

	return &envoy_http_v3.HttpFilter{
		Name:       name,
		ConfigType: &envoy_http_v3.HttpFilter_TypedConfig{TypedConfig: any},
	}, nil
}

// makeFilter generates an Envoy listener filter from the given proto message.
func makeFilter(name string, cfg proto.Message) (*envoy_listener_v3.Filter, error) {
	any, err := anypb.New(cfg)
	if err != nil {
		return nil, err
	}

	return &envoy_listener_v3.Filter{
		Name:       name,
		ConfigType: &envoy_listener_v3.Filter_TypedConfig{TypedConfig: any},
	}, nil
}
