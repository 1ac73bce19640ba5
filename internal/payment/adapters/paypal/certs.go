package paypal

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
)

var errCertNotAllowed = errors.New("paypal certificate url not allowed")

// certChain is a parsed leaf certificate with the intermediates served next to it.
type certChain struct {
	leaf          *x509.Certificate
	intermediates *x509.CertPool
}

// certCache fetches PayPal signing certificates once per URL.
type certCache struct {
	client *resty.Client

	mu     sync.RWMutex
	chains map[string]*certChain
}

func newCertCache(client *resty.Client) *certCache {
	return &certCache{
		client: client,
		chains: map[string]*certChain{},
	}
}

func (c *certCache) get(ctx context.Context, certURL, hostSuffix string) (*certChain, error) {
	if err := checkCertURL(certURL, hostSuffix); err != nil {
		return nil, err
	}

	c.mu.RLock()
	chain, ok := c.chains[certURL]
	c.mu.RUnlock()
	if ok {
		return chain, nil
	}

	resp, err := c.client.R().SetContext(ctx).Get(certURL)
	if err != nil {
		return nil, fmt.Errorf("fetch paypal certificate: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch paypal certificate: status %d", resp.StatusCode())
	}

	chain, err = parseChain(resp.Body())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chains[certURL] = chain
	c.mu.Unlock()
	return chain, nil
}

func checkCertURL(raw, hostSuffix string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errCertNotAllowed
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return errCertNotAllowed
	}
	if !hostAllowed(u.Hostname(), hostSuffix) {
		return errCertNotAllowed
	}
	return nil
}

func hostAllowed(host, suffix string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if host == "" || suffix == "" {
		return false
	}
	if strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix) || host == suffix[1:]
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

func parseChain(body []byte) (*certChain, error) {
	var certs []*x509.Certificate
	rest := body
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse paypal certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("paypal certificate body has no certificates")
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	return &certChain{leaf: certs[0], intermediates: intermediates}, nil
}
