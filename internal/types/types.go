package types

import (
	"time"

	"github.com/gustycube/certprobe/internal/validity"
)

// CertificateRecord is what a successful probe learned about a leaf certificate
type CertificateRecord struct {
	Host               string    `json:"host"`
	Port               int       `json:"port"`
	RemoteAddr         string    `json:"remote_addr,omitempty"`
	SubjectCommonName  string    `json:"subject_cn"`
	IssuerOrganization string    `json:"issuer_org"`
	IssuerCommonName   string    `json:"issuer_cn"`
	ProtocolVersion    string    `json:"protocol"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	DNSNames           []string  `json:"dns_names,omitempty"`
	SerialNumber       string    `json:"serial,omitempty"`
}

// Result is the outcome for one host in a run. Exactly one of Cert or Error is set.
type Result struct {
	Input         string             `json:"input"`
	Host          string             `json:"host"`
	Port          int                `json:"port,omitempty"`
	Cert          *CertificateRecord `json:"cert,omitempty"`
	RemainingDays int                `json:"remaining_days"`
	Class         validity.Class     `json:"class,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	Error         string             `json:"error,omitempty"`
	CheckedAt     time.Time          `json:"checked_at"`
	Duration      time.Duration      `json:"duration_ns"`
}

// OK reports whether the probe produced a certificate.
func (r Result) OK() bool { return r.Cert != nil }

// Success builds a result for a classified certificate.
func Success(input string, cert *CertificateRecord, now time.Time) Result {
	days, class := validity.Classify(cert.NotAfter, now)
	return Result{
		Input:         input,
		Host:          cert.Host,
		Port:          cert.Port,
		Cert:          cert,
		RemainingDays: days,
		Class:         class,
		CheckedAt:     now,
	}
}

// Failure builds a result for a host that could not be probed.
func Failure(input, host string, port int, kind string, err error, now time.Time) Result {
	return Result{
		Input:     input,
		Host:      host,
		Port:      port,
		ErrorKind: kind,
		Error:     err.Error(),
		CheckedAt: now,
	}
}

// Report is the summary of a whole run
type Report struct {
	Run       string         `json:"run"`
	StartedAt time.Time      `json:"started_at"`
	Finished  time.Time      `json:"finished_at"`
	Results   []Result       `json:"results"`
	Counts    map[string]int `json:"counts"`
}

// Tally counts results per class name, failures under "FAILED".
func Tally(results []Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if !r.OK() {
			counts["FAILED"]++
			continue
		}
		counts[r.Class.String()]++
	}
	return counts
}

// Healthy reports whether every result has a certificate that has not expired.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK() || r.Class == validity.ClassExpired {
			return false
		}
	}
	return true
}
