// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
)

// Tool is the closed set of dispatchable operations. Dispatch switches
// exhaustively on this type; adding a tool means extending the switch,
// checked at review time rather than discovered at runtime.
type Tool int

const (
	toolUnknown Tool = iota

	// ToolHTTPRequest proxies an HTTP call through a matched route.
	ToolHTTPRequest

	// ToolListRoutes describes the caller's routes: names, allow-lists,
	// and the names (never values) of secrets and injected headers.
	ToolListRoutes
)

// parseTool maps an envelope tool name onto the enum.
func parseTool(name string) Tool {
	switch name {
	case "http_request":
		return ToolHTTPRequest
	case "list_routes":
		return ToolListRoutes
	default:
		return toolUnknown
	}
}

// HTTPRequestInput is the tool input for ToolHTTPRequest. Body may be
// a string or any structured value; structured bodies are serialized
// as JSON before dispatch.
type HTTPRequestInput struct {
	Method  string            `cbor:"method"`
	URL     string            `cbor:"url"`
	Headers map[string]string `cbor:"headers,omitempty"`
	Body    any               `cbor:"body,omitempty"`
}

// HTTPResult is the tool result for ToolHTTPRequest.
type HTTPResult struct {
	Status     int               `cbor:"status"`
	StatusText string            `cbor:"statusText"`
	Headers    map[string]string `cbor:"headers"`

	// Body is parsed JSON when the upstream declared a JSON content
	// type, otherwise the raw text.
	Body any `cbor:"body"`
}

// RouteSummary is one entry of the ToolListRoutes result.
type RouteSummary struct {
	Index            int      `cbor:"index"`
	Alias            string   `cbor:"alias"`
	Name             string   `cbor:"name,omitempty"`
	Description      string   `cbor:"description,omitempty"`
	Docs             []string `cbor:"docs,omitempty"`
	AllowedEndpoints []string `cbor:"allowedEndpoints"`

	// SecretNames and HeaderNames expose what is available, never the
	// values.
	SecretNames []string `cbor:"secretNames"`
	HeaderNames []string `cbor:"headerNames"`
}

// summarizeRoutes builds the list_routes result for one caller's
// resolved routes.
func summarizeRoutes(routes []route.ResolvedRoute) []RouteSummary {
	summaries := make([]RouteSummary, 0, len(routes))
	for index, resolved := range routes {
		summaries = append(summaries, RouteSummary{
			Index:            index,
			Alias:            resolved.Alias,
			Name:             resolved.Name,
			Description:      resolved.Description,
			Docs:             resolved.Docs,
			AllowedEndpoints: resolved.AllowedEndpoints,
			SecretNames:      resolved.SecretNames(),
			HeaderNames:      resolved.HeaderNames(),
		})
	}
	return summaries
}
