// Provider resolution: mapping path-embedded provider names to upstreams.
package proxy

import (
	"strings"
	"sync/atomic"

	"github.com/tokenlens/gateway/internal/config"
	"github.com/tokenlens/gateway/internal/usage"
)

// Target is one upstream destination.
type Target struct {
	// BaseURL with any trailing slash stripped at lookup time. Path segments
	// it carries (e.g. ".../api/v3") survive concatenation.
	BaseURL string
	// Family hints the usage wire shape for this provider's responses.
	Family usage.Family
	// SigV4 marks providers whose requests are signed instead of having the
	// client's auth headers forwarded.
	SigV4 bool
	// Service is the SigV4 service name.
	Service string
}

// NewTarget builds a target from wire-level strings, applying the same
// defaults as the config loader.
func NewTarget(baseURL, family, auth, service string) Target {
	if auth == "sigv4" && service == "" {
		service = "bedrock"
	}
	return Target{
		BaseURL: baseURL,
		Family:  usage.ParseFamily(family),
		SigV4:   auth == "sigv4",
		Service: service,
	}
}

// Targets is the provider-name -> upstream mapping. It is treated as an
// immutable snapshot; updates replace the whole map.
type Targets map[string]Target

// TargetsFromConfig converts configured providers into a target map.
func TargetsFromConfig(providers map[string]config.ProviderConfig) Targets {
	t := make(Targets, len(providers))
	for name, p := range providers {
		service := p.Service
		if p.Auth == "sigv4" && service == "" {
			service = "bedrock"
		}
		t[name] = Target{
			BaseURL: p.BaseURL,
			Family:  usage.ParseFamily(p.Family),
			SigV4:   p.Auth == "sigv4",
			Service: service,
		}
	}
	return t
}

// targetTable is the hot-swappable snapshot holder.
type targetTable struct {
	ptr atomic.Pointer[Targets]
}

func newTargetTable(t Targets) *targetTable {
	tt := &targetTable{}
	tt.store(t)
	return tt
}

func (tt *targetTable) store(t Targets) {
	cp := make(Targets, len(t))
	for k, v := range t {
		cp[k] = v
	}
	tt.ptr.Store(&cp)
}

func (tt *targetTable) snapshot() Targets {
	return *tt.ptr.Load()
}

// resolve looks up a provider in the current snapshot.
func (tt *targetTable) resolve(provider string) (Target, bool) {
	t, ok := tt.snapshot()[provider]
	return t, ok
}

// SplitProviderPath extracts the provider token and the upstream remainder
// from a request path of the form /{provider}/{rest...}. The remainder always
// starts with "/" and defaults to "/".
func SplitProviderPath(path string) (provider, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "/"
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx:]
	}
	return trimmed, "/"
}

// upstreamURL joins a target base with the path remainder. Deliberately plain
// string concatenation: URL resolution would treat the absolute-path
// remainder as replacing the base path and drop segments like "/api/v3".
func upstreamURL(base, rest string) string {
	return strings.TrimRight(base, "/") + rest
}
