package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_CertificateUpdate(t *testing.T) {
	raw := []byte(`{"message_type":"certificate_update","data":{"cert_index":7,"leaf_cert":{"subject":{"CN":"x"},"all_domains":["a.evil.com","*.Safe.org","a.evil.com"]}}}`)

	event, err := Extract(raw)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, []string{"a.evil.com", "*.Safe.org", "a.evil.com"}, event.Domains)
}

func TestExtract_EmptyDomainList(t *testing.T) {
	event, err := Extract([]byte(`{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":[]}}}`))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Empty(t, event.Domains)
}

func TestExtract_Skip(t *testing.T) {
	tests := []string{
		`{"message_type":"heartbeat","timestamp":1700000000}`,
		`{"message_type":"dns_entries"}`,
		`{"message_type":""}`,
		// Nothing past message_type is inspected for other message types.
		`{"message_type":"heartbeat","data":5}`,
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			event, err := Extract([]byte(raw))
			assert.NoError(t, err)
			assert.Nil(t, event)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"not json", `{{{`, KindMalformed},
		{"empty", ``, KindMalformed},
		{"array document", `["certificate_update"]`, KindMalformed},
		{"null document", `null`, KindMalformed},
		{"invalid utf-8 domain", "{\"message_type\":\"certificate_update\",\"data\":{\"leaf_cert\":{\"all_domains\":[\"a\xffb.evil.com\"]}}}", KindMalformed},
		{"invalid utf-8 heartbeat", "{\"message_type\":\"heart\xc3\"}", KindMalformed},
		{"no message_type", `{"data":{}}`, KindMissingType},
		{"numeric message_type", `{"message_type":1}`, KindMissingType},
		{"null message_type", `{"message_type":null}`, KindMissingType},
		{"no data", `{"message_type":"certificate_update"}`, KindMissingDomains},
		{"no leaf_cert", `{"message_type":"certificate_update","data":{}}`, KindMissingDomains},
		{"leaf_cert not object", `{"message_type":"certificate_update","data":{"leaf_cert":"x"}}`, KindMissingDomains},
		{"no all_domains", `{"message_type":"certificate_update","data":{"leaf_cert":{}}}`, KindMissingDomains},
		{"all_domains string", `{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":"a.com"}}}`, KindDomainsNotList},
		{"all_domains null", `{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":null}}}`, KindDomainsNotList},
		{"numeric domain", `{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":["a.com",5]}}}`, KindDomainNotString},
		{"null domain", `{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":[null]}}}`, KindDomainNotString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Extract([]byte(tt.raw))
			assert.Nil(t, event)

			var ee *ExtractError
			require.True(t, errors.As(err, &ee), "got %v", err)
			assert.Equal(t, tt.kind, ee.Kind)
			assert.ErrorIs(t, err, &ExtractError{Kind: tt.kind})
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	raw := []byte(`{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":["a.com","b.com"]}}}`)
	orig := string(raw)

	first, err := Extract(raw)
	require.NoError(t, err)
	second, err := Extract(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, orig, string(raw), "input is not modified")

	first.Domains[0] = "changed"
	assert.Equal(t, "a.com", second.Domains[0], "events do not share storage")
}

func TestExtractError_Message(t *testing.T) {
	err := &ExtractError{Kind: KindDomainNotString, Detail: "all_domains[1]"}
	assert.Equal(t, "extract: domain not a string: all_domains[1]", err.Error())
	assert.Equal(t, "extract: missing message_type", (&ExtractError{Kind: KindMissingType}).Error())
}

func BenchmarkExtract(b *testing.B) {
	raw := []byte(`{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":["www.example.com","example.com","mail.example.com"]}}}`)
	for i := 0; i < b.N; i++ {
		_, _ = Extract(raw)
	}
}
