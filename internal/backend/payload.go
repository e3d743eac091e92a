// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Payload is the endpoint-specific request data. Values may nest when the
// endpoint takes a JSON body.
type Payload map[string]any

const (
	encodingForm = "form"
	encodingJSON = "json"
)

// normalize returns a deep copy of p with every string in NFC form, so
// composed and decomposed spellings of the same text reach the backend
// identically.
func normalize(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[norm.NFC.String(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = norm.NFC.String(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return map[string]any(normalize(Payload(t)))
	case Payload:
		return normalize(t)
	default:
		return v
	}
}

// requestKey identifies a call for de-duplication and caching. Map keys are
// marshalled in sorted order, so equal payloads give equal keys.
func requestKey(endpoint string, p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return endpoint + "|" + string(data), nil
}

// formValue renders v for an urlencoded body. Composite values are sent as
// JSON text.
func formValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(t), nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// encodeBody builds the request body: action, payload and timestamp, either
// urlencoded or as a JSON object.
func encodeBody(encoding, endpoint, timestamp string, p Payload) ([]byte, string, error) {
	if encoding == encodingJSON {
		body := make(map[string]any, len(p)+2)
		for k, v := range p {
			body[k] = v
		}
		body["action"] = endpoint
		body["timestamp"] = timestamp
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return buf.Bytes(), "application/json", nil
	}

	form := url.Values{}
	for k, v := range p {
		s, err := formValue(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode field %q: %w", k, err)
		}
		form.Set(k, s)
	}
	form.Set("action", endpoint)
	form.Set("timestamp", timestamp)
	return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
}

// normalizeBaseURL validates raw as an http(s) URL and converts its host to
// ASCII.
func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("invalid base URL %q: missing host", raw)
	}
	if net.ParseIP(host) != nil {
		return strings.TrimRight(u.String(), "/"), nil
	}
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("invalid base URL host %q: %w", host, err)
	}
	ascii = strings.ToLower(ascii)
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(ascii, port)
	} else {
		u.Host = ascii
	}
	return strings.TrimRight(u.String(), "/"), nil
}
