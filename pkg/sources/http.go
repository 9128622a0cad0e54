package sources

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/opsintel/opsiq/pkg/models"
)

// httpConnection is a shared http.Client configured per source spec.
type httpConnection struct {
	client *http.Client
}

func openHTTP(spec *models.SourceSpec) HTTPConnection {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
	}
	if spec.TLSMode == "insecure" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &httpConnection{
		client: &http.Client{
			Timeout:   spec.Timeout(15 * time.Second),
			Transport: transport,
		},
	}
}

// Do issues the request.
func (c *httpConnection) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
