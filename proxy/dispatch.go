// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/codec"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/urlglob"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/session"
)

// maxResponseBytes caps how much of an upstream response body is read
// back to the caller.
const maxResponseBytes = 10 << 20

// Dispatcher executes decrypted application requests against their
// matched routes.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. The client carries the upstream
// timeout policy; the dispatcher itself never retries.
func NewDispatcher(client *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

// Dispatch routes one envelope to its tool handler.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, envelope RequestEnvelope) (any, *Error) {
	switch parseTool(envelope.ToolName) {
	case ToolListRoutes:
		return summarizeRoutes(sess.Routes), nil

	case ToolHTTPRequest:
		var input HTTPRequestInput
		if err := codec.Unmarshal(envelope.ToolInput, &input); err != nil {
			return nil, Errorf(CodeHandlerFailure, "malformed http_request input: %v", err)
		}
		if input.URL == "" {
			return nil, Errorf(CodeHandlerFailure, "http_request requires a url")
		}
		return d.proxyHTTP(ctx, sess.Routes, input)

	default:
		return nil, Errorf(CodeUnknownTool, "unknown tool %q", envelope.ToolName)
	}
}

// proxyHTTP applies the route-matching and substitution sequence. The
// ordering is security-relevant: the header-conflict check runs before
// any network I/O, body substitution is gated per route, and the fully
// resolved URL is re-validated against the allow-list immediately
// before execution.
func (d *Dispatcher) proxyHTTP(ctx context.Context, routes []route.ResolvedRoute, input HTTPRequestInput) (any, *Error) {
	// Literal URL against each allow-list, first match wins. A route
	// with an empty allow-list can never match.
	var matched *route.ResolvedRoute
	resolvedURL := input.URL
	for index := range routes {
		if len(routes[index].AllowedEndpoints) == 0 {
			continue
		}
		if urlglob.MatchAny(routes[index].AllowedEndpoints, input.URL) {
			matched = &routes[index]
			resolvedURL = route.Expand(input.URL, matched.Secrets)
			break
		}
	}

	// No literal match: substitute the URL with each route's own
	// secrets and test against that same route's allow-list. Needed
	// for credentials embedded in query strings rather than headers.
	if matched == nil {
		for index := range routes {
			if len(routes[index].AllowedEndpoints) == 0 {
				continue
			}
			candidate := route.Expand(input.URL, routes[index].Secrets)
			if urlglob.MatchAny(routes[index].AllowedEndpoints, candidate) {
				matched = &routes[index]
				resolvedURL = candidate
				break
			}
		}
	}
	if matched == nil {
		return nil, Errorf(CodeEndpointNotAllowed, "no route allows endpoint %s", input.URL)
	}

	// Client header values may reference the matched route's secrets
	// and nothing else.
	headers := make(map[string]string, len(input.Headers)+len(matched.Headers))
	for name, value := range input.Headers {
		headers[name] = route.Expand(value, matched.Secrets)
	}

	// A client header colliding with an auto-injected header is
	// rejected outright, before any network I/O: allowing the client
	// to pre-set such a header would let it shadow, or probe for, the
	// injected credential.
	injected := make(map[string]string, len(matched.Headers))
	for name := range matched.Headers {
		injected[strings.ToLower(name)] = name
	}
	for name := range input.Headers {
		if _, conflict := injected[strings.ToLower(name)]; conflict {
			return nil, Errorf(CodeHeaderConflict, "header %q conflicts with a route-injected header", name)
		}
	}

	// Route headers merge after the conflict check, so they cannot be
	// shadowed. Their values were expanded at resolve time.
	for name, value := range matched.Headers {
		headers[name] = value
	}

	body, failure := d.resolveBody(input.Body, matched, headers)
	if failure != nil {
		return nil, failure
	}

	// Substitution may have rewritten the URL; the final form must
	// still be allowed. A distinct message so the two rejections are
	// distinguishable in audit trails.
	if !urlglob.MatchAny(matched.AllowedEndpoints, resolvedURL) {
		return nil, Errorf(CodeEndpointNotAllowed, "substituted endpoint left the allow-list for route %s", matched.Alias)
	}

	return d.execute(ctx, input, matched.Alias, resolvedURL, headers, body)
}

// resolveBody serializes the request body and applies the per-route
// substitution gate. Structured bodies are serialized regardless of
// the gate; only placeholder substitution is conditional. The gate
// blocks an exfiltration pattern: write ${SECRET} into a remote
// resource, read the resolved value back.
func (d *Dispatcher) resolveBody(body any, matched *route.ResolvedRoute, headers map[string]string) (string, *Error) {
	if body == nil {
		return "", nil
	}

	text, isString := body.(string)
	if !isString {
		serialized, err := json.Marshal(body)
		if err != nil {
			return "", Errorf(CodeHandlerFailure, "serializing request body: %v", err)
		}
		text = string(serialized)
		if !headerPresent(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
	}

	if matched.ResolveSecretsInBody {
		text = route.Expand(text, matched.Secrets)
	}
	return text, nil
}

// execute performs the upstream call and classifies the response.
func (d *Dispatcher) execute(ctx context.Context, input HTTPRequestInput, routeAlias, resolvedURL string, headers map[string]string, body string) (any, *Error) {
	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, resolvedURL, reader)
	if err != nil {
		return nil, Errorf(CodeHandlerFailure, "building upstream request: %v", sanitizeURLError(err))
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	response, err := d.client.Do(request)
	if err != nil {
		d.logger.Warn("upstream request failed",
			"route", routeAlias,
			"method", method,
			"error", sanitizeURLError(err),
		)
		return nil, Errorf(CodeHandlerFailure, "upstream request failed: %v", sanitizeURLError(err))
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, Errorf(CodeHandlerFailure, "reading upstream response: %v", err)
	}

	responseHeaders := make(map[string]string, len(response.Header))
	for name := range response.Header {
		responseHeaders[name] = response.Header.Get(name)
	}

	var parsedBody any = string(responseBody)
	if isJSONContentType(response.Header.Get("Content-Type")) {
		var structured any
		if err := json.Unmarshal(responseBody, &structured); err == nil {
			parsedBody = structured
		}
	}

	return &HTTPResult{
		Status:     response.StatusCode,
		StatusText: http.StatusText(response.StatusCode),
		Headers:    responseHeaders,
		Body:       parsedBody,
	}, nil
}

func headerPresent(headers map[string]string, name string) bool {
	for existing := range headers {
		if strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}

func isJSONContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// sanitizeURLError strips the URL out of transport errors. The
// resolved URL can carry substituted secrets in its query string; the
// error text travels back to the caller, who must never see values.
func sanitizeURLError(err error) error {
	var urlError *url.Error
	if errors.As(err, &urlError) {
		return urlError.Err
	}
	return err
}
