// Package transport is the HTTP side of the OpenADR pull channel: it
// POSTs encoded payloads to {vtn_url}/{service} and hands back the raw
// response body. Supports mutual TLS with an optional pinned VTN
// certificate fingerprint.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Socket timeouts fixed by the client design: a slow VTN must not stall
// the polling loop for longer than one poll interval.
const (
	connectTimeout = 5 * time.Second
	readTimeout    = 10 * time.Second
)

// Kind classifies a transport failure for the dispatcher.
type Kind int

const (
	KindNetwork     Kind = iota // could not reach the VTN
	KindHTTPStatus              // VTN answered with a non-200 HTTP status
	KindFingerprint             // VTN certificate did not match the pin
)

// Error is a classified transport failure.
type Error struct {
	Kind    Kind
	Service string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("transport: %s returned HTTP %d", e.Service, e.Status)
	case KindFingerprint:
		return fmt.Sprintf("transport: %s: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("transport: %s: %v", e.Service, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// TLSConfig holds the security material for the VTN connection.
type TLSConfig struct {
	CertFile      string // client certificate (enables mTLS when set with KeyFile)
	KeyFile       string // client private key
	Passphrase    string // passphrase for a legacy encrypted PEM key
	CAFile        string // CA bundle for verifying the VTN certificate
	CheckHostname bool   // verify the VTN hostname against its certificate
}

// Endpoint posts OpenADR payloads to one VTN. The underlying HTTP
// client is created lazily on first use and shared by all requests.
type Endpoint struct {
	vtnURL      string
	tlsCfg      TLSConfig
	fingerprint string // expected VTN certificate fingerprint, empty to skip

	once    sync.Once
	client  *http.Client
	initErr error
}

// NewEndpoint creates an Endpoint for the given VTN URL. A trailing
// slash on the URL is stripped. fingerprint pins the VTN certificate;
// leave it empty to rely on CA verification alone.
func NewEndpoint(vtnURL string, tlsCfg TLSConfig, fingerprint string) *Endpoint {
	return &Endpoint{
		vtnURL:      strings.TrimRight(vtnURL, "/"),
		tlsCfg:      tlsCfg,
		fingerprint: fingerprint,
	}
}

// URL returns the normalized VTN base URL.
func (e *Endpoint) URL() string { return e.vtnURL }

// Post sends body to {vtn_url}/{service} and returns the response
// bytes. A non-200 status, connection failure or fingerprint mismatch
// returns a *Error; an empty 200 body returns (nil, nil).
func (e *Endpoint) Post(ctx context.Context, service string, body []byte) ([]byte, error) {
	e.once.Do(e.buildClient)
	if e.initErr != nil {
		return nil, &Error{Kind: KindNetwork, Service: service, Err: e.initErr}
	}

	url := e.vtnURL + "/" + service
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Service: service, Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Service: service, Err: err}
	}
	defer resp.Body.Close()

	if e.fingerprint != "" {
		if err := e.verifyPeer(resp); err != nil {
			return nil, &Error{Kind: KindFingerprint, Service: service, Err: err}
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Service: service, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindHTTPStatus, Service: service, Status: resp.StatusCode}
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

// Close releases idle connections. Safe to call before first use.
func (e *Endpoint) Close() {
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
}

// verifyPeer compares the VTN's TLS leaf certificate against the
// pinned fingerprint.
func (e *Endpoint) verifyPeer(resp *http.Response) error {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return fmt.Errorf("fingerprint pinned but connection is not TLS")
	}
	got := Fingerprint(resp.TLS.PeerCertificates[0].Raw)
	if !strings.EqualFold(got, e.fingerprint) {
		return fmt.Errorf("fingerprint mismatch: got %s, want %s", got, e.fingerprint)
	}
	return nil
}

// buildClient constructs the shared HTTP client, with mTLS when
// configured.
func (e *Endpoint) buildClient() {
	dialer := &net.Dialer{Timeout: connectTimeout}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: readTimeout,
	}

	if e.tlsCfg.CertFile != "" || e.tlsCfg.CAFile != "" {
		tlsConfig, err := buildTLS(e.tlsCfg)
		if err != nil {
			e.initErr = err
			return
		}
		tr.TLSClientConfig = tlsConfig
		// A custom TLSClientConfig disables automatic HTTP/2; restore it.
		if err := http2.ConfigureTransport(tr); err != nil {
			e.initErr = fmt.Errorf("configure http2: %w", err)
			return
		}
	}

	e.client = &http.Client{Transport: tr}
}

// buildTLS assembles a tls.Config from the configured PEM files.
func buildTLS(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.CheckHostname,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA bundle %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := loadKeyPair(cfg.CertFile, cfg.KeyFile, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// loadKeyPair loads a client certificate, decrypting a legacy
// passphrase-protected PEM key when needed.
func loadKeyPair(certFile, keyFile, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read client cert %s: %w", certFile, err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read client key %s: %w", keyFile, err)
	}

	if passphrase != "" {
		block, _ := pem.Decode(keyPEM)
		if block == nil {
			return tls.Certificate{}, fmt.Errorf("client key %s is not PEM", keyFile)
		}
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy RFC 1423 keys
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("decrypt client key: %w", err)
			}
			keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load client key pair: %w", err)
	}
	return cert, nil
}

// Fingerprint renders the OpenADR certificate fingerprint: the last
// eight bytes of the SHA-256 digest of the DER certificate, as
// colon-separated hex pairs.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	tail := sum[len(sum)-8:]
	parts := make([]string, len(tail))
	for i, b := range tail {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// FingerprintPEM returns the fingerprint of the first certificate in a
// PEM bundle. Used to print the VEN's own fingerprint at startup.
func FingerprintPEM(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("no certificate found in PEM data")
	}
	return Fingerprint(block.Bytes), nil
}
