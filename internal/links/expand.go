package links

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// maxRedirects bounds how many hops a shortened URL may take.
const maxRedirects = 10

// Expander resolves shortened URLs to their final destination.
type Expander interface {
	Expand(ctx context.Context, shortURL string) (string, error)
}

// HTTPExpander follows redirects with a single HEAD request.
type HTTPExpander struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPExpander creates an expander bounded by timeout.
func NewHTTPExpander(timeout time.Duration) *HTTPExpander {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPExpander{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

// Expand returns the URL reached after following redirects.
func (e *HTTPExpander) Expand(ctx context.Context, shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", shortURL, err)
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}
