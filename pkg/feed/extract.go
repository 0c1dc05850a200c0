// Package feed decodes certstream messages into certificate events.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// Message types sent by a certstream server.
const (
	MessageCertificateUpdate = "certificate_update"
	MessageHeartbeat         = "heartbeat"
)

// Kind classifies an ExtractError.
type Kind int

const (
	KindMalformed       Kind = iota + 1 // not a JSON object, or not valid UTF-8
	KindMissingType                     // message_type absent or not a string
	KindMissingDomains                  // data.leaf_cert.all_domains absent
	KindDomainsNotList                  // all_domains is not an array
	KindDomainNotString                 // an all_domains entry is not a string
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindMissingType:
		return "missing message_type"
	case KindMissingDomains:
		return "missing all_domains"
	case KindDomainsNotList:
		return "all_domains not an array"
	case KindDomainNotString:
		return "domain not a string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExtractError reports a message that could not be turned into an event.
type ExtractError struct {
	Kind   Kind
	Detail string
}

func (e *ExtractError) Error() string {
	if e.Detail == "" {
		return "extract: " + e.Kind.String()
	}
	return fmt.Sprintf("extract: %s: %s", e.Kind, e.Detail)
}

// Is matches any *ExtractError with the same Kind, so callers can test
// errors.Is(err, &ExtractError{Kind: KindMissingDomains}).
func (e *ExtractError) Is(target error) bool {
	t, ok := target.(*ExtractError)
	return ok && t.Kind == e.Kind
}

var domainsPath = []string{"data", "leaf_cert", "all_domains"}

// Extract decodes one raw feed message.
//
// It returns (nil, nil) for messages that are well formed but not
// certificate updates, such as heartbeats. Certificate updates yield their
// data.leaf_cert.all_domains list verbatim. Extract has no side effects.
func Extract(raw []byte) (*types.CertificateEvent, error) {
	// encoding/json would silently replace invalid bytes with U+FFFD.
	if !utf8.Valid(raw) {
		return nil, &ExtractError{Kind: KindMalformed, Detail: "invalid UTF-8"}
	}
	doc, ok := object(raw)
	if !ok {
		return nil, &ExtractError{Kind: KindMalformed, Detail: malformedDetail(raw)}
	}

	rawType, ok := doc["message_type"]
	if !ok {
		return nil, &ExtractError{Kind: KindMissingType}
	}
	messageType, ok := str(rawType)
	if !ok {
		return nil, &ExtractError{Kind: KindMissingType, Detail: "message_type is not a string"}
	}
	if messageType != MessageCertificateUpdate {
		return nil, nil
	}

	node := json.RawMessage(raw)
	for _, key := range domainsPath {
		obj, ok := object(node)
		if !ok {
			return nil, &ExtractError{Kind: KindMissingDomains, Detail: fmt.Sprintf("%s is not an object", key)}
		}
		if node, ok = obj[key]; !ok {
			return nil, &ExtractError{Kind: KindMissingDomains, Detail: fmt.Sprintf("no %s", key)}
		}
	}

	var entries []json.RawMessage
	if isNull(node) || json.Unmarshal(node, &entries) != nil {
		return nil, &ExtractError{Kind: KindDomainsNotList}
	}

	domains := make([]string, len(entries))
	for i, entry := range entries {
		domain, ok := str(entry)
		if !ok {
			return nil, &ExtractError{Kind: KindDomainNotString, Detail: fmt.Sprintf("all_domains[%d]", i)}
		}
		domains[i] = domain
	}
	return &types.CertificateEvent{Domains: domains}, nil
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func str(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformedDetail(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err.Error()
	}
	return "document is not an object"
}
