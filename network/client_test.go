package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, landingURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		LandingURL:       landingURL,
		ServerLookupWait: time.Millisecond,
	}, log.NewLogger())
	require.NoError(t, err)
	return c
}

func TestCreateCustomRetryFunction(t *testing.T) {
	mockLogger := new(mocks.Logger)
	mockLogger.On("Debugf", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	retryFunc := createCustomRetryFunction(mockLogger)

	cases := []struct {
		name     string
		response *http.Response
		error    error
		expected bool
	}{
		{
			name:     "Retry for transport error",
			response: &http.Response{},
			error:    errors.New("connection reset by peer"),
			expected: true,
		},
		{
			name:     "No retry for HTTP 404 status code",
			response: &http.Response{StatusCode: 404},
			expected: false,
		},
		{
			name:     "Retry for HTTP 503 status code",
			response: &http.Response{StatusCode: 503},
			expected: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retry, _ := retryFunc(context.Background(), tc.response, tc.error)
			assert.Equal(t, tc.expected, retry)
		})
	}
	mockLogger.AssertExpectations(t)
}

func TestCreateCustomRetryFunction_Aborted(t *testing.T) {
	retryFunc := createCustomRetryFunction(new(mocks.Logger))
	retry, err := retryFunc(context.Background(), nil, fmt.Errorf("Post: %w", errs.ErrAborted))
	assert.False(t, retry)
	assert.ErrorIs(t, err, errs.ErrAborted)
}

func TestResolveServer(t *testing.T) {
	var calls atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The marker only shows up on the second visit.
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>maintenance</html>"))
			return
		}
		_, _ = w.Write([]byte(`<script>var server = "46.gigafile.nu";</script>`))
	}))
	defer svr.Close()

	server, err := newTestClient(t, svr.URL).ResolveServer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "46.gigafile.nu", server)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveServer_NoMarker(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer svr.Close()

	_, err := newTestClient(t, svr.URL).ResolveServer(context.Background())
	assert.ErrorIs(t, err, errs.ErrProtocol)
}

func TestPostChunk(t *testing.T) {
	payload := []byte(strings.Repeat("chunk-data", 100))
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload_chunk.php", r.URL.Path)
		assert.Equal(t, "multipart/form-data; boundary=xyz", r.Header.Get("Content-Type"))
		assert.Equal(t, int64(len(payload)), r.ContentLength)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, body)

		_, _ = w.Write([]byte(`{"status":0,"url":"https://46.gigafile.nu/1017-abc","filename":"1017-abc"}`))
	}))
	defer svr.Close()

	c := newTestClient(t, svr.URL)
	var opened atomic.Int32
	ack, err := c.PostChunk(context.Background(), ChunkRequest{
		Server:      strings.TrimPrefix(svr.URL, "http://"),
		ContentType: "multipart/form-data; boundary=xyz",
		Size:        int64(len(payload)),
		Body: func() (io.ReadCloser, error) {
			opened.Add(1)
			return io.NopCloser(bytes.NewReader(payload)), nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, ack.Status)
	assert.Equal(t, 0, *ack.Status)
	assert.Equal(t, "https://46.gigafile.nu/1017-abc", ack.URL)
	assert.Equal(t, "1017-abc", ack.Filename)
	assert.GreaterOrEqual(t, opened.Load(), int32(1))
}

func TestPostChunk_MissingStatus(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer svr.Close()

	ack, err := newTestClient(t, svr.URL).PostChunk(context.Background(), ChunkRequest{
		Server: strings.TrimPrefix(svr.URL, "http://"),
		Size:   1,
		Body: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("x")), nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, ack.Status)
}

func TestPostChunk_Errors(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad chunk"))
	}))
	defer svr.Close()

	_, err := newTestClient(t, svr.URL).PostChunk(context.Background(), ChunkRequest{
		Server: strings.TrimPrefix(svr.URL, "http://"),
		Size:   1,
		Body: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("x")), nil
		},
	})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "HTTP 400: bad chunk", err.Error())
	assert.False(t, IsNotFound(err))
}

func TestHandshakeProbeOpen(t *testing.T) {
	content := []byte("hello world")
	mux := http.NewServeMux()
	mux.HandleFunc("/1017-abc", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "dl", Value: "ok", Path: "/"})
	})
	mux.HandleFunc("/download.php", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("dl"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="hello.txt"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(content)
		}
	})
	svr := httptest.NewServer(mux)
	defer svr.Close()

	c := newTestClient(t, svr.URL)
	ctx := context.Background()
	direct := svr.URL + "/download.php?file=1017-abc"

	_, err := c.Probe(ctx, direct)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)

	require.NoError(t, c.Handshake(ctx, svr.URL+"/1017-abc"))
	require.Len(t, c.Cookies(svr.URL), 1)

	info, err := c.Probe(ctx, direct)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, `attachment; filename="hello.txt"`, info.ContentDisposition)
	assert.True(t, info.AcceptsRanges)

	body, info, err := c.Open(ctx, direct)
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), info.Size)

	err = c.Handshake(ctx, svr.URL+"/missing")
	assert.True(t, IsNotFound(err))
}
