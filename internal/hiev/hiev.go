// Package hiev uploads data files and their metadata to the HIEv data
// repository through its file creation API.
//
// Each upload is a single multipart POST request authenticated with the
// API token as a query parameter.  Only HTTP 200 counts as success; the
// request is never retried.
package hiev

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-lab/hievup/api"
)

// DefaultEndpoint is the file creation API of the HIEv instance that the
// settings files were written for.
const DefaultEndpoint = "https://hiev.uws.edu.au/data_files/api_create.json"

// Config defines the upload client configuration.
type Config struct {
	Endpoint string // URL of the file creation API
	Token    string // API token
	// InsecureSkipVerify disables TLS certificate verification.  It
	// exists for HIEv instances with self-signed certificates and
	// should stay off everywhere else.
	InsecureSkipVerify bool
	Timeout            time.Duration // zero means no timeout beyond the transport's own
}

// Client uploads files to HIEv.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	insecure   bool
}

const errBodyMax = 512 // bytes of an error response included in errors

var (
	ErrConfig       = errors.New("invalid upload configuration")
	ErrUpload       = errors.New("failed to upload file")
	ErrUploadStatus = errors.New("upload rejected")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new upload client.
func New(conf Config) (*Client, error) {
	if conf.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrConfig)
	}
	endpoint, err := url.Parse(conf.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("%w: %v: unsupported scheme", ErrConfig, conf.Endpoint)
	}
	q := endpoint.Query()
	q.Set("auth_token", conf.Token)
	endpoint.RawQuery = q.Encode()

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	if conf.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Transport: transport, Timeout: conf.Timeout},
		insecure:   conf.InsecureSkipVerify,
	}, nil
}

// Insecure reports whether TLS certificate verification is disabled.
func (c *Client) Insecure() bool {
	return c.insecure
}

// Endpoint returns the upload URL without the API token.
func (c *Client) Endpoint() string {
	u := *c.endpoint
	q := u.Query()
	q.Del("auth_token")
	u.RawQuery = q.Encode()
	return u.String()
}

// Upload sends the contents of r as the file part named filename along
// with the payload fields.  The contents are streamed, not buffered, and
// r is no longer read once Upload returns.
func (c *Client) Upload(ctx context.Context, payload api.UploadPayload, filename string, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeBody(mw, payload, filename, r))
	}()
	// r must not be read after Upload returns.
	defer func() {
		pr.Close()
		<-written
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), pr)
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrUpload, filename, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	verbose("uploading %v to %v", filename, c.Endpoint())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrUpload, filename, redact(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyMax))
		return fmt.Errorf("%w: %v: %v: %s", ErrUploadStatus, filename, resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	verbose("uploaded %v: %v", filename, resp.Status)
	return nil
}

// writeBody writes the multipart form: payload fields first, then the
// file part.
func writeBody(mw *multipart.Writer, payload api.UploadPayload, filename string, r io.Reader) error {
	for _, f := range payload.Fields() {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return err //nolint:wrapcheck
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := io.Copy(part, r); err != nil {
		return err //nolint:wrapcheck
	}
	return mw.Close() //nolint:wrapcheck
}

// redact removes the request URL (which includes the API token) from
// transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
