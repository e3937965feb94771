// Package inference is the HTTP client for model-serving endpoints: it
// uploads an image as a multipart form and returns the raw reply.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"

	"github.com/ironsheep/orthoscan/internal/imaging"
)

// MaxReplyBytes bounds how much of a model reply is read.
const MaxReplyBytes = 64 << 20

// Client posts images to one inference URL. It holds no mutable state and
// is safe for concurrent use.
type Client struct {
	URL  string
	HTTP *http.Client
}

// New returns a client for inferenceURL. A nil httpClient uses
// http.DefaultClient.
func New(inferenceURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{URL: inferenceURL, HTTP: httpClient}
}

// CheckHealth calls the service's health endpoint, the sibling "health" path
// of the inference URL: http://host:5000/predict is checked at
// http://host:5000/health.
func (c *Client) CheckHealth(ctx context.Context) error {
	if c.URL == "" {
		return fmt.Errorf("no inference url configured")
	}
	healthURL, err := SiblingURL(c.URL, "health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// PostImage encodes img as PNG, uploads it in the multipart field "file",
// and returns the reply body and content type. Non-200 replies are errors.
func (c *Client) PostImage(ctx context.Context, img image.Image) ([]byte, string, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, "", fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, MaxReplyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	return reply, resp.Header.Get("Content-Type"), nil
}

// SiblingURL replaces the last path segment of raw with name and drops the
// query string.
func SiblingURL(raw, name string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid inference url %q: %w", raw, err)
	}
	dir := path.Dir(u.Path)
	if dir == "." {
		dir = "/"
	}
	u.Path = path.Join(dir, name)
	u.RawQuery = ""
	return u.String(), nil
}
