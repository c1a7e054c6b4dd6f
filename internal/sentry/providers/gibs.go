package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/orbital-sentry/internal/sentry"
)

// DefaultGIBSURL is the NASA GIBS WMS endpoint in geographic projection.
const DefaultGIBSURL = "https://gibs.earthdata.nasa.gov/wms/epsg4326/best/wms.cgi"

var _ sentry.ImageSource = (*GIBSProvider)(nil)

// GIBSProvider implements sentry.ImageSource with WMS 1.1.1 GetMap requests
// against NASA GIBS.
type GIBSProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
}

func NewGIBSProvider(client *http.Client, baseURL string) *GIBSProvider {
	if baseURL == "" {
		baseURL = DefaultGIBSURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gibs",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &GIBSProvider{
		name:    "gibs",
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Circuit: cb,
		},
	}
}

func (p *GIBSProvider) Name() string {
	return p.name
}

func (p *GIBSProvider) Fetch(ctx context.Context, req sentry.FetchRequest) ([]byte, string, error) {
	if req.Layer.ProviderID == "" {
		return nil, "", &sentry.FetchError{Key: req.Key, Kind: sentry.FetchProvider, Err: fmt.Errorf("layer %q has no provider id", req.Layer.Name)}
	}

	u, err := p.getMapURL(req)
	if err != nil {
		return nil, "", &sentry.FetchError{Key: req.Key, Kind: sentry.FetchTransport, Err: err}
	}
	httpReq, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, "", &sentry.FetchError{Key: req.Key, Kind: sentry.FetchTransport, Err: err}
	}

	res, err := doImageRequest(ctx, p.httpCfg, req.Key, httpReq)
	if err != nil {
		return nil, "", err
	}

	ct := res.contentType
	if ct == "" {
		ct = req.Layer.Format
	}
	return res.body, ct, nil
}

func (p *GIBSProvider) getMapURL(req sentry.FetchRequest) (string, error) {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid wms url: %w", err)
	}

	format := req.Layer.Format
	if format == "" {
		format = "image/png"
	}

	values := url.Values{}
	values.Set("SERVICE", "WMS")
	values.Set("VERSION", "1.1.1")
	values.Set("REQUEST", "GetMap")
	values.Set("LAYERS", req.Layer.ProviderID)
	values.Set("STYLES", "")
	values.Set("FORMAT", format)
	if req.Layer.Transparent {
		values.Set("TRANSPARENT", "true")
	}
	values.Set("SRS", "EPSG:4326")
	values.Set("BBOX", req.BBox.String())
	values.Set("WIDTH", strconv.Itoa(req.Width))
	values.Set("HEIGHT", strconv.Itoa(req.Height))
	values.Set("TIME", req.Date.UTC().Format(time.DateOnly))

	base.RawQuery = values.Encode()
	return base.String(), nil
}
