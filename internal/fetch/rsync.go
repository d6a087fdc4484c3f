package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/uri"
)

// RsyncOptions 控制 rsync 子进程的调用方式。
type RsyncOptions struct {
	LocalRepository string
	Logger          *logrus.Logger
	// Program 默认 "rsync"，可指向自定义二进制。
	Program string
	// Timeout 约束单次镜像的总时长，0 表示不限制。
	Timeout time.Duration
}

// Rsync 通过外部 rsync 二进制一次镜像整棵远端子树。
type Rsync struct {
	repo    string
	logger  *logrus.Logger
	program string
	timeout time.Duration
}

// NewRsync 构造 rsync 下载器。
func NewRsync(opts RsyncOptions) (*Rsync, error) {
	if opts.LocalRepository == "" {
		return nil, errors.New("local repository path required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	program := opts.Program
	if program == "" {
		program = "rsync"
	}
	return &Rsync{
		repo:    opts.LocalRepository,
		logger:  opts.Logger,
		program: program,
		timeout: opts.Timeout,
	}, nil
}

// Download 将 u 指向的远端子树镜像到本地仓库的对应目录。
func (r *Rsync) Download(ctx context.Context, u *uri.URI) error {
	dst := filepath.Join(r.repo, filepath.FromSlash(u.Local()))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return &Error{Code: CodeLocalIO, Op: "rsync", URI: u.Global(), Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// 远端地址带末尾斜杠：镜像目录内容而非目录本身
	cmd := exec.CommandContext(ctx, r.program,
		"--recursive", "--delete", "--times", "--contimeout=20",
		u.Global()+"/", dst)
	output, err := cmd.CombinedOutput()

	fields := logrus.Fields{
		"action": "rsync_download",
		"uri":    u.Global(),
	}
	if err != nil {
		fields["output"] = string(output)
		r.logger.WithFields(fields).Warnf("rsync 失败: %v", err)
		return &Error{
			Code: CodeRsyncExit,
			Op:   "rsync",
			URI:  u.Global(),
			Err:  fmt.Errorf("%w: %s", err, firstLine(output)),
		}
	}

	r.logger.WithFields(fields).Debug("rsync 完成")
	return nil
}

// firstLine 截取子进程输出首行，避免错误串过长。
func firstLine(output []byte) string {
	for i, b := range output {
		if b == '\n' {
			return string(output[:i])
		}
	}
	return string(output)
}
