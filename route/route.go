// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package route turns connector templates into per-caller resolved
// routes. A connector template names a set of secrets, header
// templates, and an endpoint allow-list; resolution substitutes the
// secrets from the environment (with caller-specific overrides) and
// expands header placeholders strictly against the owning route's own
// secrets. A secret belonging to one route is never visible to, or
// substitutable from, any other route.
package route

// Connector is a route template: the static description of one
// upstream connection. Built-in connectors live in a JSONC catalog
// directory; callers may also carry custom connectors in their
// profile, which take precedence over catalog entries with the same
// alias.
type Connector struct {
	// Alias identifies the connector. May be empty in a template
	// file; resolution injects the referencing connection's alias.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`

	// Name is an optional human-readable name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description is an optional one-line description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Docs lists optional documentation links, surfaced by
	// list_routes.
	Docs []string `json:"docs,omitempty" yaml:"docs,omitempty"`

	// Headers maps header names to value templates. Templates may
	// reference this connector's secrets as ${NAME}.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Secrets maps secret names to values: either literals or
	// whole-value ${ENV_VAR} references resolved at startup.
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`

	// AllowedEndpoints is the endpoint allow-list (urlglob patterns).
	// A connector with an empty allow-list can never match a request.
	AllowedEndpoints []string `json:"allowed_endpoints,omitempty" yaml:"allowed_endpoints,omitempty"`

	// ResolveSecretsInBody opts the connector into ${NAME}
	// substitution inside request bodies. Off by default: an agent
	// that can write a placeholder into a remote resource and read it
	// back would otherwise exfiltrate the secret value.
	ResolveSecretsInBody bool `json:"resolve_secrets_in_body,omitempty" yaml:"resolve_secrets_in_body,omitempty"`
}

// ResolvedRoute is the per-caller instantiation of a Connector:
// secrets resolved to values, header templates expanded against those
// secrets. Resolved secret values never leave the process; list_routes
// exposes names only.
type ResolvedRoute struct {
	Alias                string
	Name                 string
	Description          string
	Docs                 []string
	Headers              map[string]string
	Secrets              map[string]string
	AllowedEndpoints     []string
	ResolveSecretsInBody bool
}

// CallerProfile configures one caller: which connections it gets,
// any custom connectors, and its environment override map.
type CallerProfile struct {
	// Connections lists connector aliases this caller receives.
	Connections []string `yaml:"connections"`

	// Connectors are caller-specific custom connectors. A custom
	// connector whose alias matches a connection reference is
	// preferred over the catalog entry of the same alias.
	Connectors []Connector `yaml:"connectors,omitempty"`

	// Env redirects or overrides ${ENV_VAR} secret references for
	// this caller. A value of the form "${OTHER}" redirects the
	// lookup to a different environment variable; any other value is
	// used literally.
	Env map[string]string `yaml:"env,omitempty"`
}
