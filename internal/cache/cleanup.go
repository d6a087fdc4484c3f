package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Cleanup 在一轮验证的所有下载结束后执行：以文件系统为基准对两棵树做
// 标记-清扫，一次遍历同时回收内存（节点）与磁盘（文件/目录），随后把
// 裁剪后的树重新写入快照。执行期间持锁，不允许任何下载在途。
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rsync == nil {
		return
	}

	c.cleanupNode(c.rsync, filepath.Join(c.repo, c.rsync.name))
	c.cleanupNode(c.https, filepath.Join(c.repo, c.https.name))
	c.writeMetadata()

	c.logger.WithFields(logrus.Fields{
		"action": "cache_cleanup",
		"run_id": c.runID,
	}).Debug("缓存清理完成")
}

// cleanupNode 将单个节点与其磁盘路径对账：
//   - 磁盘缺失 → 删节点（连同结构上已成孤儿的后代）；
//   - 节点新鲜且上次成功 → 整棵子树原样保留；
//   - 两者都在但节点过期 → 文件直接连带删除；目录则逐项递归，
//     磁盘上没有对应节点的条目直接删掉，节点里没有对应磁盘条目的
//     子节点删掉，清空后的非根空目录连同节点一并删除。
//
// 对账过程中任何本地 I/O 失败都只记日志并放弃该条目，轮次继续。
func (c *Cache) cleanupNode(n *node, path string) {
	logErr := func(format string, args ...any) {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_cleanup",
			"path":   path,
		}).Errorf(format, args...)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// 节点还在、磁盘没了：树向现实看齐
			n.deleteSubtree(false)
			return
		}
		logErr("无法检查缓存条目: %v", err)
		return
	}

	if n.fresh(c.startup) && n.lastError == 0 {
		// 本轮刚成功下载过，整棵子树视为活跃
		return
	}

	// 至此磁盘条目存在但节点过期，目标是把两者一起清掉。

	switch {
	case info.Mode().IsRegular():
		if err := os.Remove(path); err != nil {
			logErr("无法删除过期缓存文件: %v", err)
		}
		n.deleteSubtree(false)

	case info.IsDir():
		entries, err := os.ReadDir(path)
		if err != nil {
			logErr("无法枚举缓存目录: %v", err)
			return
		}

		// 目录过期不代表后代过期，逐项对账
		for _, entry := range entries {
			child := n.findChild(entry.Name())
			if child != nil {
				child.visited = true
				c.cleanupNode(child, filepath.Join(path, entry.Name()))
			} else {
				// 磁盘条目无节点引用，没人认领
				if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
					logErr("无法删除无主缓存条目: %v", err)
				}
			}
		}

		for _, child := range n.children {
			if child.visited {
				// 磁盘对应物仍在，说明子树里还有活跃后代
				child.visited = false
			} else {
				// 子节点的磁盘对应物已不存在
				child.deleteSubtree(false)
			}
		}

		if len(n.children) == 0 && !n.isRoot() {
			if err := os.RemoveAll(path); err != nil {
				logErr("无法删除清空后的缓存目录: %v", err)
			}
			n.deleteSubtree(false)
		}

	default:
		// 既不是文件也不是目录的异类条目，连同节点一并清除
		if err := os.Remove(path); err != nil {
			logErr("无法删除异常类型的缓存条目: %v", err)
		}
		n.deleteSubtree(false)
	}
}
