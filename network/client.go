package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const uploadPath = "upload_chunk.php"

var serverPattern = regexp.MustCompile(`var server = "(.+?)"`)

// Options configures the Client.
type Options struct {
	// LandingURL is the page the upload server is scraped from.
	LandingURL string

	// Scheme used to reach the upload server.
	// Default: the scheme of LandingURL, or https
	Scheme string

	// RetryMax is the number of transport level retries per request.
	RetryMax int

	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// ServerLookupAttempts is how many times the landing page is re-fetched
	// when it does not name an upload server. Default: 3
	ServerLookupAttempts uint

	// ServerLookupWait is the pause between those attempts. Default: 2s
	ServerLookupWait time.Duration
}

// ChunkRequest is one chunk body to be posted to an upload server.
type ChunkRequest struct {
	// Index is the chunk index, only used for logging.
	Index       int
	Server      string
	ContentType string
	Size        int64

	// Body opens a fresh reader over the encoded body. It is called again for
	// every transport level retry.
	Body func() (io.ReadCloser, error)
}

// Ack is the upload server's answer to a chunk.
type Ack struct {
	// Status is 0 on success. A missing status is a failure as well.
	Status *int `json:"status"`

	// URL is the share link, present once the server assembled the file.
	URL string `json:"url"`

	// Filename is the remote id of the assembled file.
	Filename string `json:"filename"`
}

// FileInfo is what a HEAD or GET response tells about remote content.
type FileInfo struct {
	// Size is the declared Content-Length, -1 when unknown.
	Size               int64
	ContentDisposition string
	AcceptsRanges      bool
}

// Client talks to the file sharing service. Every request goes through a
// retrying HTTP client sharing a single cookie jar, so cookies set by the
// first request of a session are sent with the following ones.
type Client struct {
	httpClient *retryablehttp.Client
	jar        http.CookieJar
	opts       Options
	logger     log.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, logger log.Logger) (*Client, error) {
	if opts.Scheme == "" {
		opts.Scheme = "https"
		if u, err := url.Parse(opts.LandingURL); err == nil && u.Scheme != "" {
			opts.Scheme = u.Scheme
		}
	}
	if opts.ServerLookupAttempts == 0 {
		opts.ServerLookupAttempts = 3
	}
	if opts.ServerLookupWait == 0 {
		opts.ServerLookupWait = 2 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	httpClient := retryhttp.NewClient(logger)
	httpClient.HTTPClient.Jar = jar
	httpClient.CheckRetry = createCustomRetryFunction(logger)
	httpClient.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		httpClient: httpClient,
		jar:        jar,
		opts:       opts,
		logger:     logger,
	}, nil
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, reqErr error) (bool, error) {
		if errors.Is(reqErr, errs.ErrAborted) {
			return false, reqErr
		}
		shouldRetry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, reqErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", shouldRetry, err, reqErr)
		return shouldRetry, err
	}
}

// ResolveServer scrapes the landing page for the host that accepts uploads.
func (c *Client) ResolveServer(ctx context.Context) (string, error) {
	var server string
	err := retry.Times(c.opts.ServerLookupAttempts-1).Wait(c.opts.ServerLookupWait).TryWithAbort(func(attempt uint) (error, bool) {
		page, err := c.getPage(ctx, c.opts.LandingURL)
		if err != nil {
			return err, true
		}

		m := serverPattern.FindSubmatch(page)
		if m == nil {
			c.logger.Debugf("Landing page has no upload server (attempt %d)", attempt+1)
			return errs.Protocol("no upload server on %s", c.opts.LandingURL), false
		}

		server = string(m[1])
		return nil, true
	})
	if err != nil {
		return "", fmt.Errorf("resolve upload server: %w", err)
	}

	c.logger.Debugf("Upload server: %s", server)
	return server, nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errs.InvalidArgument("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, unwrapError(resp)
	}

	return io.ReadAll(resp.Body)
}

// PostChunk uploads one encoded chunk body and decodes the acknowledgment.
// Status validation is left to the caller.
func (c *Client) PostChunk(ctx context.Context, chunk ChunkRequest) (Ack, error) {
	uploadURL := fmt.Sprintf("%s://%s/%s", c.opts.Scheme, chunk.Server, uploadPath)

	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return chunk.Body()
	})
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return Ack{}, errs.InvalidArgument("create request: %w", err)
	}
	req.Header.Set("Content-Type", chunk.ContentType)

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", strconv.FormatInt(chunk.Size, 10))
	req.ContentLength = chunk.Size

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk %d request dump: %s", chunk.Index, string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ack{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Ack{}, unwrapError(resp)
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, errs.Protocol("decode acknowledgment: %w", err)
	}
	return ack, nil
}

// Handshake visits a share page so the jar picks up the cookies the direct
// download link requires.
func (c *Client) Handshake(ctx context.Context, shareURL string) error {
	_, err := c.getPage(ctx, shareURL)
	if err != nil {
		return fmt.Errorf("visit share page: %w", err)
	}
	return nil
}

// Probe issues a HEAD request for the content at contentURL.
func (c *Client) Probe(ctx context.Context, contentURL string) (FileInfo, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, contentURL, nil)
	if err != nil {
		return FileInfo{}, errs.InvalidArgument("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileInfo{}, err
	}
	c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, &StatusError{StatusCode: resp.StatusCode}
	}
	return fileInfo(resp), nil
}

// Open starts streaming the content at contentURL. The caller closes the body.
func (c *Client) Open(ctx context.Context, contentURL string) (io.ReadCloser, FileInfo, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, FileInfo{}, errs.InvalidArgument("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, FileInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		defer c.closeBody(resp.Body)
		return nil, FileInfo{}, unwrapError(resp)
	}

	return resp.Body, fileInfo(resp), nil
}

// Cookies returns the cookies the jar holds for rawURL.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// StandardClient returns an *http.Client that retries and shares the cookie jar.
func (c *Client) StandardClient() *http.Client {
	return c.httpClient.StandardClient()
}

// CloseIdleConnections closes idle connections of the underlying transport.
func (c *Client) CloseIdleConnections() {
	c.httpClient.HTTPClient.CloseIdleConnections()
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func fileInfo(resp *http.Response) FileInfo {
	return FileInfo{
		Size:               resp.ContentLength,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		AcceptsRanges:      resp.Header.Get("Accept-Ranges") == "bytes",
	}
}

// StatusError is returned for responses with an unexpected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err carries a 404 or 410 response.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(errorResp)}
}
