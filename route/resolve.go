// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"log/slog"
	"slices"
)

// EnvFunc looks up an environment variable, returning "" when unset.
// Production passes os.Getenv (possibly layered behind a sealed
// credential bundle); tests pass a stub.
type EnvFunc func(name string) string

// ResolveRoutes builds the effective route list for one caller.
//
// For each connection reference, a custom connector in the profile
// with a matching alias is preferred over the catalog template of the
// same alias; the connection's alias is injected into the resolved
// record even when the template omits one. References that match
// neither source are skipped with a warning.
//
// Secret resolution: a secret value is either a literal or a
// whole-value ${ENV_VAR} reference. References are looked up first in
// the caller's override map (a "${OTHER}" value redirects the lookup,
// anything else is a literal override) and then in the
// process environment. References that resolve to nothing are omitted
// from the resolved secret map entirely (never left as placeholders)
// and logged as warnings.
//
// Header templates are then expanded strictly against the route's own
// resolved secrets; placeholders naming anything else stay literal.
func ResolveRoutes(profile CallerProfile, catalog Catalog, environ EnvFunc, logger *slog.Logger) []ResolvedRoute {
	routes := make([]ResolvedRoute, 0, len(profile.Connections))

	for _, alias := range profile.Connections {
		connector, found := findConnector(alias, profile.Connectors, catalog)
		if !found {
			logger.Warn("unknown connection reference, skipping",
				"alias", alias,
			)
			continue
		}

		secrets := resolveSecrets(alias, connector.Secrets, profile.Env, environ, logger)

		headers := make(map[string]string, len(connector.Headers))
		for name, template := range connector.Headers {
			headers[name] = Expand(template, secrets)
		}

		routes = append(routes, ResolvedRoute{
			Alias:                alias,
			Name:                 connector.Name,
			Description:          connector.Description,
			Docs:                 slices.Clone(connector.Docs),
			Headers:              headers,
			Secrets:              secrets,
			AllowedEndpoints:     slices.Clone(connector.AllowedEndpoints),
			ResolveSecretsInBody: connector.ResolveSecretsInBody,
		})
	}
	return routes
}

// findConnector applies the custom-over-builtin precedence.
func findConnector(alias string, custom []Connector, catalog Catalog) (Connector, bool) {
	for _, connector := range custom {
		if connector.Alias == alias {
			return connector, true
		}
	}
	connector, found := catalog[alias]
	return connector, found
}

// resolveSecrets materializes a connector's secret map for one caller.
func resolveSecrets(routeAlias string, declared map[string]string, overrides map[string]string, environ EnvFunc, logger *slog.Logger) map[string]string {
	resolved := make(map[string]string, len(declared))

	for name, value := range declared {
		variable := envReference(value)
		if variable == "" {
			resolved[name] = value
			continue
		}

		lookup := variable
		if override, exists := overrides[variable]; exists {
			if redirect := envReference(override); redirect != "" {
				lookup = redirect
			} else {
				resolved[name] = override
				continue
			}
		}

		if environValue := environ(lookup); environValue != "" {
			resolved[name] = environValue
			continue
		}

		// Omitted, not left as a placeholder: a later header or body
		// expansion must not see a half-resolved value.
		logger.Warn("secret reference did not resolve, omitting",
			"route", routeAlias,
			"secret", name,
			"variable", lookup,
		)
	}
	return resolved
}

// SecretNames returns the sorted names of a route's available secrets.
// Used by list_routes, which must never expose values.
func (r ResolvedRoute) SecretNames() []string {
	names := make([]string, 0, len(r.Secrets))
	for name := range r.Secrets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HeaderNames returns the sorted names of the headers this route
// auto-injects.
func (r ResolvedRoute) HeaderNames() []string {
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
