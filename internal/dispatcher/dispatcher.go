// Package dispatcher implements the Plugin Dispatcher & Extractor Contract
// (spec §4.6): an ordered registry of site extractors, matched against a
// source URL by domain substring or regular expression, falling back to a
// generic HTTP passthrough extractor registered last.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/utils"
)

// Extractor is the contract every site plugin implements.
type Extractor interface {
	Name() string
	Description() string
	Version() string
	HandledDomains() []string
	HandledPatterns() []*regexp.Regexp
	// MaxThreads returns the extractor's concurrency clamp, or 0 for none.
	MaxThreads() int
	Matches(rawurl string) bool
	Extract(ctx context.Context, rawurl string) ([]model.DownloadDescriptor, error)
}

// Registry is the ordered, thread-safe extractor table. Registration order
// defines match priority; the generic HTTP extractor is registered last.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an extractor to the end of the match order.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// List returns the registered extractors in match order.
func (r *Registry) List() []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extractor, len(r.extractors))
	copy(out, r.extractors)
	return out
}

// Names returns the registered extractor names in match order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		out[i] = e.Name()
	}
	return out
}

// Dispatch finds the first matching extractor for rawurl and resolves it to
// one or more descriptors. ExtractionError is terminal: no fallback is
// attempted once a specific extractor has matched and failed.
func (r *Registry) Dispatch(ctx context.Context, rawurl string) ([]model.DownloadDescriptor, error) {
	r.mu.RLock()
	extractors := make([]Extractor, len(r.extractors))
	copy(extractors, r.extractors)
	r.mu.RUnlock()

	for _, e := range extractors {
		if !e.Matches(rawurl) {
			continue
		}
		utils.Debug("dispatcher: %q matched extractor %q", rawurl, e.Name())
		descs, err := e.Extract(ctx, rawurl)
		if err != nil {
			return nil, model.NewError(model.KindExtraction, fmt.Sprintf("extractor %q failed for %s", e.Name(), rawurl), err)
		}
		if len(descs) == 0 {
			return nil, model.NewError(model.KindExtraction, fmt.Sprintf("extractor %q returned no descriptors for %s", e.Name(), rawurl), nil)
		}
		for i := range descs {
			if mt := e.MaxThreads(); mt > 0 {
				descs[i].MaxThreads = mt
			}
		}
		return descs, nil
	}

	return nil, model.NewError(model.KindUnsupportedURL, fmt.Sprintf("no extractor handles %s", rawurl), nil)
}

// baseExtractor is embedded by concrete extractors to implement the
// bookkeeping fields of the contract uniformly.
type baseExtractor struct {
	name        string
	description string
	version     string
	domains     []string
	patterns    []*regexp.Regexp
	maxThreads  int
}

func (b *baseExtractor) Name() string                     { return b.name }
func (b *baseExtractor) Description() string              { return b.description }
func (b *baseExtractor) Version() string                  { return b.version }
func (b *baseExtractor) HandledDomains() []string          { return b.domains }
func (b *baseExtractor) HandledPatterns() []*regexp.Regexp { return b.patterns }
func (b *baseExtractor) MaxThreads() int                   { return b.maxThreads }

func (b *baseExtractor) Matches(rawurl string) bool {
	u, err := url.Parse(rawurl)
	if err == nil {
		host := strings.ToLower(u.Host)
		for _, d := range b.domains {
			if strings.Contains(host, strings.ToLower(d)) {
				return true
			}
		}
	}
	for _, p := range b.patterns {
		if p.MatchString(rawurl) {
			return true
		}
	}
	return false
}

// HTTPExtractor is the generic, last-resort extractor (grounded on
// macdl's HTTPPlugin): it matches any http(s) URL and returns a single
// passthrough descriptor built from a HEAD request.
type HTTPExtractor struct {
	baseExtractor
	client *httpfile.Client
}

// NewHTTPExtractor constructs the generic passthrough extractor. It should
// be the last one registered.
func NewHTTPExtractor(client *httpfile.Client) *HTTPExtractor {
	return &HTTPExtractor{
		baseExtractor: baseExtractor{
			name:        "http",
			description: "generic passthrough extractor for any http(s) URL",
			version:     "1.0",
			patterns:    []*regexp.Regexp{regexp.MustCompile(`^https?://`)},
		},
		client: client,
	}
}

func (h *HTTPExtractor) Extract(ctx context.Context, rawurl string) ([]model.DownloadDescriptor, error) {
	md, err := h.client.Head(ctx, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("head request: %w", err)
	}
	filename := md.Filename
	if filename == "" {
		filename = utils.DetermineFilename(md.EffectiveURL, nil, nil)
	}
	return []model.DownloadDescriptor{{
		URL:        md.EffectiveURL,
		Filename:   filename,
		Size:       md.Size,
		ResumeHint: md.ResumeSupported,
		SourceURL:  rawurl,
	}}, nil
}

// Default returns a registry seeded only with the generic HTTP extractor.
// Callers add site-specific extractors (out of core scope, per spec §1)
// ahead of it with Register.
func Default(client *httpfile.Client) *Registry {
	r := NewRegistry()
	r.Register(NewHTTPExtractor(client))
	return r
}
