package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/uri"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回共享配置的 http.Client，用于所有上游请求。
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// HTTPOptions 控制逐文件下载器的行为。
type HTTPOptions struct {
	LocalRepository string
	Logger          *logrus.Logger
	// Client 默认由 NewClient(30s) 提供。
	Client *http.Client
	// MaxRetries 是网络层失败后的额外重试次数。
	MaxRetries int
	// InitialBackoff 是首次重试前的等待，其后逐次翻倍。
	InitialBackoff time.Duration
	UserAgent      string
}

// HTTP 逐文件拉取远端对象，用 If-Modified-Since 做条件取回：
// 304 表示本地缓存仍然有效（changed=false），200 则原子落盘新内容。
type HTTP struct {
	repo      string
	logger    *logrus.Logger
	client    *http.Client
	retries   int
	backoff   time.Duration
	userAgent string
}

// NewHTTP 构造 HTTPS 下载器。
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if opts.LocalRepository == "" {
		return nil, errors.New("local repository path required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &HTTP{
		repo:      opts.LocalRepository,
		logger:    opts.Logger,
		client:    client,
		retries:   opts.MaxRetries,
		backoff:   backoff,
		userAgent: opts.UserAgent,
	}, nil
}

// Download 取回单个文件。网络层失败按配置重试（退避翻倍），
// 非预期状态码与本地 I/O 失败不重试。
func (h *HTTP) Download(ctx context.Context, u *uri.URI) (bool, error) {
	dst := filepath.Join(h.repo, filepath.FromSlash(u.Local()))

	var modTime time.Time
	if info, err := os.Stat(dst); err == nil && info.Mode().IsRegular() {
		modTime = info.ModTime()
	}

	backoff := h.backoff
	var lastErr error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, &Error{Code: CodeNetwork, Op: "http", URI: u.Global(), Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		changed, retriable, err := h.attempt(ctx, u, dst, modTime)
		if err == nil {
			return changed, nil
		}
		lastErr = err
		if !retriable {
			return false, err
		}
		h.logger.WithFields(logrus.Fields{
			"action":  "http_download",
			"uri":     u.Global(),
			"attempt": attempt + 1,
		}).Warnf("下载失败，准备重试: %v", err)
	}

	return false, lastErr
}

// attempt 执行单次条件取回；retriable 指示错误是否值得退避重试。
func (h *HTTP) attempt(ctx context.Context, u *uri.URI, dst string, modTime time.Time) (changed, retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Global(), nil)
	if err != nil {
		return false, false, &Error{Code: CodeTransfer, Op: "http", URI: u.Global(), Err: err}
	}
	if !modTime.IsZero() {
		req.Header.Set("If-Modified-Since", modTime.UTC().Format(http.TimeFormat))
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, true, &Error{Code: CodeNetwork, Op: "http", URI: u.Global(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return false, false, nil
	case resp.StatusCode == http.StatusOK:
		if err := h.write(dst, resp); err != nil {
			return false, false, err
		}
		return true, false, nil
	case resp.StatusCode >= 500:
		return false, true, statusError(u, resp.StatusCode)
	default:
		return false, false, statusError(u, resp.StatusCode)
	}
}

// write 以临时文件 + rename 保证落盘原子性，并尽量保留上游的修改时间，
// 下次条件取回依赖它。
func (h *HTTP) write(dst string, resp *http.Response) error {
	wrap := func(err error) error {
		return &Error{Code: CodeLocalIO, Op: "http", URI: resp.Request.URL.String(), Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return wrap(err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return wrap(err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return wrap(err)
	}

	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		_ = os.Chtimes(dst, lm, lm)
	}
	return nil
}

func statusError(u *uri.URI, status int) *Error {
	return &Error{
		Code: CodeHTTPStatus,
		Op:   "http",
		URI:  u.Global(),
		Err:  fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}
