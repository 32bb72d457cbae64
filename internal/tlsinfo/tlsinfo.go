package tlsinfo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gustycube/certprobe/internal/types"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultPort    = 443
)

// ErrFieldMissing is wrapped when a required subject or issuer attribute is absent.
var ErrFieldMissing = errors.New("certificate field missing")

var (
	oidCommonName   = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidOrganization = asn1.ObjectIdentifier{2, 5, 4, 10}
)

// Prober fetches leaf certificates over TLS. One socket per Fetch.
type Prober struct {
	Timeout     time.Duration
	DefaultPort int

	// RootCAs overrides the system trust store. Only tests against local
	// endpoints set it.
	RootCAs *x509.CertPool
}

func New(timeout time.Duration, defaultPort int) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if defaultPort <= 0 {
		defaultPort = DefaultPort
	}
	return &Prober{Timeout: timeout, DefaultPort: defaultPort}
}

// Fetch connects to host:port, completes a TLS handshake with SNI set to host
// and returns the leaf certificate's details. Errors are *ProbeError.
func (p *Prober) Fetch(ctx context.Context, host string, port int) (*types.CertificateRecord, error) {
	if port <= 0 {
		port = p.DefaultPort
	}
	tr := otel.Tracer("certprobe/tlsinfo")
	ctx, span := tr.Start(ctx, "Fetch", trace.WithAttributes(
		attribute.String("host", host),
		attribute.Int("port", port),
	))
	defer span.End()

	rec, err := p.fetch(ctx, host, port)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		return nil, err
	}
	span.SetAttributes(attribute.String("protocol", rec.ProtocolVersion))
	return rec, nil
}

func (p *Prober) fetch(ctx context.Context, host string, port int) (*types.CertificateRecord, error) {
	fail := func(kind Kind, err error) error {
		return &ProbeError{Kind: kind, Host: host, Port: port, Err: err}
	}

	dctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	d := &tls.Dialer{Config: p.config(host)}
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fail(classify(ctx, err), err)
	}
	defer conn.Close()

	cs := conn.(*tls.Conn).ConnectionState()
	if len(cs.PeerCertificates) == 0 {
		return nil, fail(KindTLSHandshakeFailed, errors.New("server presented no certificate"))
	}
	rec, err := Extract(cs.PeerCertificates[0])
	if err != nil {
		return nil, fail(KindCertificateFieldMissing, err)
	}
	rec.Host = host
	rec.Port = port
	rec.ProtocolVersion = ProtocolName(cs.Version)
	rec.RemoteAddr = conn.RemoteAddr().String()
	return rec, nil
}

func (p *Prober) config(host string) *tls.Config {
	roots := p.RootCAs
	return &tls.Config{
		ServerName: host,
		// Verification runs in VerifyConnection so that a lapsed leaf still
		// completes the handshake and can be classified.
		InsecureSkipVerify: true, // #nosec G402
		VerifyConnection: func(cs tls.ConnectionState) error {
			return VerifyChain(host, roots, cs.PeerCertificates, time.Now())
		},
	}
}

// VerifyChain checks certs against roots (nil means the system pool) and the
// hostname, like the standard handshake does. The one difference: when the only
// problem is an expired leaf, the chain is verified again at the leaf's NotAfter
// and accepted if it was valid then.
func VerifyChain(host string, roots *x509.CertPool, certs []*x509.Certificate, now time.Time) error {
	if len(certs) == 0 {
		return errors.New("server presented no certificate")
	}
	leaf := certs[0]
	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       host,
		Intermediates: x509.NewCertPool(),
		CurrentTime:   now,
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}

	_, err := leaf.Verify(opts)
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired && invalid.Cert == leaf {
		opts.CurrentTime = leaf.NotAfter
		_, err = leaf.Verify(opts)
	}
	return err
}

// Extract reads subject and issuer attributes by type and the validity window
// from a certificate. The subject falls back to the first DNS SAN when it has
// no common name.
func Extract(cert *x509.Certificate) (*types.CertificateRecord, error) {
	subject := nameAttr(cert.Subject, oidCommonName)
	if subject == "" && len(cert.DNSNames) > 0 {
		subject = cert.DNSNames[0]
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: subject common name", ErrFieldMissing)
	}
	issuerCN := nameAttr(cert.Issuer, oidCommonName)
	if issuerCN == "" {
		return nil, fmt.Errorf("%w: issuer common name", ErrFieldMissing)
	}
	issuerOrg := nameAttr(cert.Issuer, oidOrganization)
	if issuerOrg == "" {
		return nil, fmt.Errorf("%w: issuer organization", ErrFieldMissing)
	}

	rec := &types.CertificateRecord{
		SubjectCommonName:  subject,
		IssuerOrganization: issuerOrg,
		IssuerCommonName:   issuerCN,
		NotBefore:          cert.NotBefore.UTC(),
		NotAfter:           cert.NotAfter.UTC(),
		DNSNames:           cert.DNSNames,
	}
	if cert.SerialNumber != nil {
		rec.SerialNumber = cert.SerialNumber.Text(16)
	}
	return rec, nil
}

// nameAttr returns the first non-empty value of the given attribute type.
func nameAttr(name pkix.Name, oid asn1.ObjectIdentifier) string {
	for _, atv := range name.Names {
		if !atv.Type.Equal(oid) {
			continue
		}
		if s, ok := atv.Value.(string); ok && s != "" {
			return s
		}
	}
	if len(name.Names) > 0 {
		return ""
	}
	// Names is only filled for parsed certificates.
	switch {
	case oid.Equal(oidCommonName):
		return name.CommonName
	case oid.Equal(oidOrganization) && len(name.Organization) > 0:
		return name.Organization[0]
	}
	return ""
}

// ProtocolName renders a negotiated TLS version the way operators know it.
func ProtocolName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return fmt.Sprintf("0x%04x", version)
	}
}
