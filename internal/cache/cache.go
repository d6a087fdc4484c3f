package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/uri"
)

// Rsyncer 一次调用镜像整棵远端子树。对本包而言传输过程完全不透明，
// 只关心最终成败。
type Rsyncer interface {
	Download(ctx context.Context, u *uri.URI) error
}

// Fetcher 拉取单个文件；changed 表示取回的内容与本地缓存不同。
type Fetcher interface {
	Download(ctx context.Context, u *uri.URI) (changed bool, err error)
}

// coder 允许下载错误携带结果码，结果码会随快照跨运行保存。
type coder interface {
	ErrorCode() int
}

// outcomeCode 将下载错误折算为可落盘的整数结果码；nil 为 0，
// 未携带结果码的错误统一记 1。
func outcomeCode(err error) int {
	if err == nil {
		return 0
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return 1
}

// cachedError 重放同一轮验证内已记录的下载失败，不触发新的传输。
type cachedError struct {
	code int
}

func (e cachedError) Error() string {
	return fmt.Sprintf("download already failed this run (code %d)", e.code)
}

func (e cachedError) ErrorCode() int {
	return e.code
}

// storedOutcome 把节点上记录的结果码还原成调用方可消费的 error。
func storedOutcome(code int) error {
	if code == 0 {
		return nil
	}
	return cachedError{code: code}
}

// Options 汇总构造缓存服务所需的依赖，全部显式注入。
type Options struct {
	// LocalRepository 是本地仓库根目录，协议子目录与 metadata.json 都在其下。
	LocalRepository string
	Logger          *logrus.Logger
	Rsync           Rsyncer
	HTTP            Fetcher
	// Now 可注入时钟，默认 time.Now。
	Now func() time.Time
}

// Cache 持有两棵协议树与运行期状态。树是进程级共享可变结构，
// 所有节点读写都由同一把互斥锁串行化；传输本身在锁外执行。
type Cache struct {
	repo    string
	logger  *logrus.Logger
	rsyncer Rsyncer
	fetcher Fetcher
	now     func() time.Time

	mu      sync.Mutex
	rsync   *node
	https   *node
	startup time.Time
	runID   string
}

// New 构造缓存服务。进程启动时构造一次，进程结束时 Teardown 一次。
func New(opts Options) (*Cache, error) {
	if opts.LocalRepository == "" {
		return nil, errors.New("local repository path required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.Rsync == nil {
		return nil, errors.New("rsync downloader required")
	}
	if opts.HTTP == nil {
		return nil, errors.New("http downloader required")
	}

	abs, err := filepath.Abs(opts.LocalRepository)
	if err != nil {
		return nil, fmt.Errorf("resolve local repository: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local repository: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		repo:    abs,
		logger:  opts.Logger,
		rsyncer: opts.Rsync,
		fetcher: opts.HTTP,
		now:     now,
	}, nil
}

// Prepare 标记一轮验证的开始：记录本轮起始时间并分配 run ID。
// 首次调用时从快照恢复两棵树，之后的轮次复用内存中的树。
func (c *Cache) Prepare() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startup = c.now()
	c.runID = uuid.NewString()
	if c.rsync == nil {
		c.loadMetadata()
	}

	c.logger.WithFields(logrus.Fields{
		"action": "cache_prepare",
		"run_id": c.runID,
	}).Debug("验证轮次开始")
}

// Download 为一个 URI 定位（或创建）对应的节点链，应用新鲜度策略，
// 必要时调用外部传输并记录结果。changed 仅对 HTTPS 协议有意义。
//
// 同一轮内已尝试过的节点不会再次传输：成功的重放成功，失败的重放
// 所记录的失败（调用方最早在下一轮才会重试）。
func (c *Cache) Download(ctx context.Context, u *uri.URI) (bool, error) {
	segments := u.Segments()

	c.mu.Lock()
	if c.rsync == nil {
		c.mu.Unlock()
		panic("cache: Download called before Prepare")
	}

	var n *node
	var recursive bool
	switch u.Type() {
	case uri.TypeRsync:
		n, recursive = c.rsync, true
	case uri.TypeHTTPS:
		n = c.https
	default:
		c.mu.Unlock()
		panic(fmt.Sprintf("unexpected URI type: %d", int(u.Type())))
	}

	created := false
	for i := 1; i < len(segments); i++ {
		if n.isFile {
			// 节点之前是文件，现在要当目录用：旧文件让位
			c.removeNodeEntry(n, true)
			n.resetFlags()
		}

		child := n.findChild(segments[i])
		if child == nil {
			// 路径余下部分从未见过，整链新建后直接进入传输
			for ; i < len(segments); i++ {
				n = n.addChild(segments[i])
			}
			created = true
			break
		}

		if recursive && child.fresh(c.startup) && child.lastError == 0 {
			// 一次新鲜且成功的 rsync 已覆盖整棵子树
			c.mu.Unlock()
			return false, nil
		}

		n = child
	}

	if !created {
		if n.fresh(c.startup) {
			code := n.lastError
			c.mu.Unlock()
			return false, storedOutcome(code)
		}
		if !recursive && !n.isFile {
			// 节点之前是目录，现在要当文件用：旧目录让位
			c.removeNodeEntry(n, false)
		}
	}
	c.mu.Unlock()

	var err error
	var changed bool
	switch u.Type() {
	case uri.TypeRsync:
		err = c.rsyncer.Download(ctx, u)
	case uri.TypeHTTPS:
		changed, err = c.fetcher.Download(ctx, u)
	}

	c.mu.Lock()
	n.lastError = outcomeCode(err)
	n.direct = true
	n.succeeded = false
	n.isFile = false
	n.lastAttempt = c.now()
	if err == nil {
		n.succeeded = true
		n.lastSuccess = n.lastAttempt
		if !recursive {
			n.isFile = true
		}
	}
	// 一次 direct 尝试之后，旧的子节点记录不再权威
	n.dropChildren()
	c.mu.Unlock()

	return changed, err
}

// removeNodeEntry 删除节点对应的磁盘条目，用于文件/目录形态切换。
// 删除失败只记日志：磁盘上的残留最终会被 cleanup 收走。
func (c *Cache) removeNodeEntry(n *node, isFile bool) {
	path := c.nodePath(n)
	var err error
	if isFile {
		err = os.Remove(path)
	} else {
		err = os.RemoveAll(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_override",
			"path":   path,
		}).Errorf("无法删除让位的缓存条目: %v", err)
	}
}

// nodePath 由节点链自根向叶拼出磁盘绝对路径。
func (c *Cache) nodePath(n *node) string {
	var segments []string
	for cur := n; cur != nil; cur = cur.parent {
		segments = append(segments, cur.name)
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return filepath.Join(append([]string{c.repo}, segments...)...)
}

// Teardown 在进程收尾时强制释放两棵树，包括根节点本身。
func (c *Cache) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rsync != nil {
		c.rsync.deleteSubtree(true)
		c.rsync = nil
	}
	if c.https != nil {
		c.https.deleteSubtree(true)
		c.https = nil
	}
}

// TreeStats 汇总单棵协议树的节点统计，供诊断端输出。
type TreeStats struct {
	Protocol  string `json:"protocol"`
	Nodes     int    `json:"nodes"`
	Direct    int    `json:"direct"`
	Succeeded int    `json:"succeeded"`
	Files     int    `json:"files"`
}

// Stats 描述缓存服务当前的运行期状态。
type Stats struct {
	RunID           string      `json:"run_id"`
	RunStarted      time.Time   `json:"run_started"`
	LocalRepository string      `json:"local_repository"`
	Prepared        bool        `json:"prepared"`
	Trees           []TreeStats `json:"trees"`
}

// Stats 在锁内收集两棵树的快照统计。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		RunID:           c.runID,
		RunStarted:      c.startup,
		LocalRepository: c.repo,
		Prepared:        c.rsync != nil,
	}
	for _, root := range []*node{c.rsync, c.https} {
		if root == nil {
			continue
		}
		ts := TreeStats{Protocol: root.name}
		countNodes(root, &ts)
		stats.Trees = append(stats.Trees, ts)
	}
	return stats
}

func countNodes(n *node, ts *TreeStats) {
	ts.Nodes++
	if n.direct {
		ts.Direct++
	}
	if n.succeeded {
		ts.Succeeded++
	}
	if n.isFile {
		ts.Files++
	}
	for _, child := range n.children {
		countNodes(child, ts)
	}
}
