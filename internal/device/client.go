// Package device talks to an OpenMatrix display over its HTTP API and keeps
// a local mirror of its state in sync.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/fetch"
	"github.com/koios/openmatrix/internal/imaging"
	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

// apiPrefix is the path all device endpoints live under
const apiPrefix = "/openmatrix"

// ErrUnavailable is returned by a poll that got no usable state
var ErrUnavailable = errors.New("device state unavailable")

// Response is a fully read device reply
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the device accepted the request
func (r *Response) OK() bool { return r.StatusCode == http.StatusOK }

// Ack decodes the device's acknowledgement body
func (r *Response) Ack() (models.Ack, error) {
	var ack models.Ack
	if err := json.Unmarshal(r.Body, &ack); err != nil {
		return ack, fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	return ack, nil
}

// Encoder converts source images into uploadable GIFs
type Encoder interface {
	Process(ctx context.Context, data []byte, width, height int) (*imaging.Result, error)
}

// Client issues requests to one device and updates its mirror
type Client struct {
	baseURL       string
	fetcher       *fetch.Fetcher
	fetcherOpts   []fetch.Option
	mirror        *mirror.Mirror
	encoder       Encoder
	logger        *zap.Logger
	uploadTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithEncoder sets the pipeline used by UploadImage
func WithEncoder(e Encoder) Option {
	return func(c *Client) { c.encoder = e }
}

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(d fetch.Doer) Option {
	return func(c *Client) {
		c.fetcher = fetch.New(d, c.logger, c.fetcherOpts...)
	}
}

// New creates a client for the device at cfg.BaseURL. A nil mirror gets a
// fresh one.
func New(cfg config.DeviceConfig, m *mirror.Mirror, logger *zap.Logger, opts ...Option) *Client {
	if m == nil {
		m = mirror.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		mirror:        m,
		logger:        logger,
		uploadTimeout: cfg.UploadTimeout,
	}
	c.fetcherOpts = []fetch.Option{
		fetch.WithTimeout(cfg.RequestTimeout),
		fetch.WithRetries(cfg.Retries),
		fetch.WithRetryDelay(cfg.RetryDelay),
	}
	c.fetcher = fetch.New(nil, logger, c.fetcherOpts...)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mirror returns the mirror this client writes to
func (c *Client) Mirror() *mirror.Mirror {
	return c.mirror
}

// BaseURL returns the device address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PollState fetches /state. A 200 JSON reply replaces the mirrored state;
// anything else empties it. A poll abandoned because ctx ended leaves the
// mirror untouched.
func (c *Client) PollState(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/state", nil, "")
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.mirror.Reset()
		c.logger.Warn("State poll failed", zap.Error(err))
		return err
	}

	if err := expectJSON(resp); err != nil {
		c.mirror.Reset()
		c.logger.Warn("State poll returned no state", zap.Error(err))
		return err
	}

	var state models.DeviceState
	if err := json.Unmarshal(resp.Body, &state); err != nil {
		c.mirror.Reset()
		c.logger.Warn("State poll returned invalid JSON", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mirror.Replace(state)
	return nil
}

// FetchImages fetches the image list. Anything but a 200 JSON array
// empties the mirrored list.
func (c *Client) FetchImages(ctx context.Context) ([]models.ImageDescriptor, error) {
	resp, err := c.do(ctx, http.MethodGet, "/image", nil, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.mirror.SetImages(nil)
		return nil, err
	}
	if err := expectJSON(resp); err != nil {
		c.mirror.SetImages(nil)
		return nil, err
	}

	var images []models.ImageDescriptor
	if err := json.Unmarshal(resp.Body, &images); err != nil {
		c.mirror.SetImages(nil)
		return nil, fmt.Errorf("%w: image list: %v", ErrUnavailable, err)
	}
	if images == nil {
		images = []models.ImageDescriptor{}
	}

	c.mirror.SetImages(images)
	return images, nil
}

// command sends body to path and applies merge to the mirror when the device
// answers 200.
func (c *Client) command(ctx context.Context, method, path string, body interface{}, merge func(*models.DeviceState)) (*Response, error) {
	var payload []byte
	contentType := ""
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, payload, contentType)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		if merge != nil {
			c.mirror.Update(merge)
		}
	} else {
		c.logger.Warn("Device rejected command",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
	}
	return resp, nil
}

// do performs a request through the retrying fetcher and reads the reply
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, opts ...fetch.Option) (*Response, error) {
	req := fetch.Request{
		Method: method,
		URL:    c.baseURL + apiPrefix + path,
		Body:   body,
	}
	if contentType != "" {
		req.Header = http.Header{"Content-Type": []string{contentType}}
	}

	httpResp, err := c.fetcher.Do(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func expectJSON(resp *Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: content type %q", ErrUnavailable, resp.Header.Get("Content-Type"))
	}
	return nil
}
