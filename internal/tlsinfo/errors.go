package tlsinfo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind identifies why a probe failed
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnectionRefused
	KindDNSResolutionFailed
	KindTLSHandshakeFailed
	KindHostnameMismatch
	KindUntrustedCertificate
	KindCertificateFieldMissing
	KindCanceled
	KindDialFailed
)

// Category groups kinds into the broad error families reported to users.
type Category string

const (
	CategoryNetwork     Category = "NetworkError"
	CategoryTLS         Category = "TLSError"
	CategoryCertificate Category = "CertificateParseError"
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindDNSResolutionFailed:
		return "dns_resolution_failed"
	case KindTLSHandshakeFailed:
		return "tls_handshake_failed"
	case KindHostnameMismatch:
		return "hostname_mismatch"
	case KindUntrustedCertificate:
		return "untrusted_certificate"
	case KindCertificateFieldMissing:
		return "certificate_field_missing"
	case KindCanceled:
		return "canceled"
	case KindDialFailed:
		return "dial_failed"
	default:
		return "unknown"
	}
}

// Category returns the family a kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindTLSHandshakeFailed, KindHostnameMismatch, KindUntrustedCertificate:
		return CategoryTLS
	case KindCertificateFieldMissing:
		return CategoryCertificate
	default:
		return CategoryNetwork
	}
}

// Transient reports whether retrying the probe may help.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindConnectionRefused
}

// ProbeError is returned by Prober.Fetch for every failure.
type ProbeError struct {
	Kind Kind
	Host string
	Port int
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind.Category(), e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// KindOf extracts the kind of a probe error, KindUnknown for anything else.
func KindOf(err error) Kind {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// classify maps dial and handshake errors onto kinds. ctx is the caller's
// context, so its cancellation can be told apart from the probe deadline.
func classify(ctx context.Context, err error) Kind {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return KindCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNSResolutionFailed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}

	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return KindHostnameMismatch
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return KindUntrustedCertificate
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		return KindUntrustedCertificate
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return KindUntrustedCertificate
	}

	// Unreachable networks and similar dial errors are not refusals.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindDialFailed
	}
	return KindTLSHandshakeFailed
}
