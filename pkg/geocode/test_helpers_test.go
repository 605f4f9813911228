package geocode

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

// upstream returns provider options that answer every request under base
// from srvURL and disable pacing, so a provider keeps its default endpoint
// configuration in tests. Requests anywhere else fail.
func upstream(t *testing.T, srvURL, base string) []Option {
	t.Helper()
	from, err := url.Parse(base)
	require.NoError(t, err)
	to, err := url.Parse(srvURL)
	require.NoError(t, err)

	hc := &http.Client{Transport: redirectTransport{from: from, to: to}}
	return []Option{WithHTTPClient(hc), WithLimiter(paceLimiter(0))}
}

// newTestProvider builds a registered provider against a test server.
func newTestProvider(t *testing.T, name string, cfg Config, srvURL, base string) Provider {
	t.Helper()
	p, err := New(name, cfg, upstream(t, srvURL, base)...)
	require.NoError(t, err)
	return p
}

type redirectTransport struct {
	from, to *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != rt.from.Host || !strings.HasPrefix(req.URL.Path, rt.from.Path) {
		return nil, eris.Errorf("geocode test: unexpected request to %s", req.URL)
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.to.Scheme
	out.URL.Host = rt.to.Host
	out.URL.Path = rt.to.Path + strings.TrimPrefix(req.URL.Path, rt.from.Path)
	out.URL.RawPath = ""
	out.Host = rt.to.Host
	return http.DefaultTransport.RoundTrip(out)
}
