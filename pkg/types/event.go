package types

// CertificateEvent is the domain list carried by one certificate_update feed message.
// Domains are kept verbatim: no lower-casing and no wildcard stripping.
type CertificateEvent struct {
	Domains []string
}
