// Package rpc implements the mutually authenticated HTTPS transport between the
// collector and its clients. Peers are trusted by certificate fingerprint.
package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultPort is used by UrlPrefix when the address has none.
const DefaultPort = 8123

type Client struct {
	*http.Client
	Fingerprint string // of our own certificate
}

func NewClient(cert tls.Certificate, timeout time.Duration, auth Authorizer) *Client {
	c := &Client{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout: time.Second * 15,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // the fingerprint is verified in VerifyPeerCertificate
					Certificates:       []tls.Certificate{cert},
					VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
						for _, cert := range rawCerts {
							if auth.TrustsCert(GetCertFingerprint(cert)) {
								return nil
							}
						}

						e := &ErrUntrustedServer{Fingerprint: "unknown"}
						if len(rawCerts) > 0 {
							e.Fingerprint = GetCertFingerprint(rawCerts[0])
						}
						return e
					},
				},
			},
		},
	}
	if len(cert.Certificate) > 0 {
		c.Fingerprint = GetCertFingerprint(cert.Certificate[0])
	}
	return c
}

// GET sends a request and turns non-2xx responses into errors.
func (c *Client) GET(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *Client) POST(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, url, body)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ErrUntrustedClient{Fingerprint: c.Fingerprint}
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error status: %d, body: %s", resp.StatusCode, msg)
	}
	return nil, fmt.Errorf("client error status: %d, body: %s", resp.StatusCode, msg)
}

// NewServer returns a server that requires a client certificate. Use WithAuth
// to decide which certificates are trusted.
func NewServer(addr string, cert tls.Certificate, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 30,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAnyClientCert,
			MinVersion:   tls.VersionTLS12,
		},
	}
}

// UrlPrefix returns the base URL of a collector given as host or host:port.
func UrlPrefix(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return "https://" + addr
	}
	return "https://" + net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
}

type ErrUntrustedServer struct {
	Fingerprint string
}

func (e *ErrUntrustedServer) Error() string { return "untrusted server certificate" }

type ErrUntrustedClient struct {
	Fingerprint string
}

func (e *ErrUntrustedClient) Error() string { return "server does not trust the client certificate" }
