package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MetadataFilename 是快照文件在本地仓库根目录下的名字。
const MetadataFilename = "metadata.json"

// timeLayout 对应 strftime 的 %FT%T%z，秒级精度，带时区偏移。
const timeLayout = "2006-01-02T15:04:05-0700"

// rawNode 以宽松类型接收快照记录，逐字段解析以便逐条丢弃损坏的记录。
type rawNode struct {
	Basename  *string         `json:"basename"`
	Flags     json.RawMessage `json:"flags"`
	TSSuccess *string         `json:"ts_success"`
	TSAttempt *string         `json:"ts_attempt"`
	Error     json.RawMessage `json:"error"`
	Children  json.RawMessage `json:"children"`
}

// nodeRecord 是落盘格式：两个时间戳即使未设置也编码哨兵值（零值时间）。
type nodeRecord struct {
	Basename  string        `json:"basename"`
	Flags     int           `json:"flags"`
	TSSuccess string        `json:"ts_success"`
	TSAttempt string        `json:"ts_attempt"`
	Error     int           `json:"error"`
	Children  []*nodeRecord `json:"children,omitempty"`
}

// loadMetadata 读取并解析快照，重建两棵协议树。
// 快照只是缓存的缓存：任何层级的失败都只丢弃对应部分，绝不让进程退出。
// 返回时保证两棵根都存在，缺失的根用空根补齐。
func (c *Cache) loadMetadata() {
	defer func() {
		if c.rsync == nil {
			c.rsync = newRoot("rsync")
		}
		if c.https == nil {
			c.https = newRoot("https")
		}
	}()

	path := filepath.Join(c.repo, MetadataFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "metadata_load",
			"path":   path,
		}).Warnf("读取 metadata.json 失败，按空缓存处理: %v", err)
		return
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "metadata_load",
			"path":   path,
		}).Warnf("metadata.json 顶层不是合法的记录数组，按空缓存处理: %v", err)
		return
	}

	for _, rec := range records {
		node := c.decodeNode(rec, nil)
		if node == nil {
			continue
		}
		switch {
		case strings.EqualFold(node.name, "rsync"):
			c.rsync = node
		case strings.EqualFold(node.name, "https"):
			c.https = node
		default:
			c.logger.WithField("action", "metadata_load").
				Warnf("忽略无法识别的顶层节点 '%s'", node.name)
			node.deleteSubtree(true)
		}
	}
}

// decodeNode 解析单条节点记录。任一必需字段解析失败都会丢弃整条记录
// 及其子树（返回 nil），由上层决定继续处理兄弟记录。
func (c *Cache) decodeNode(raw json.RawMessage, parent *node) *node {
	warn := func(tag, name string) {
		c.logger.WithField("action", "metadata_load").
			Warnf("metadata.json 下载节点 '%s' 的 '%s' 标签无法解析，跳过该记录", name, tag)
	}

	var rec rawNode
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Basename == nil {
		warn("basename", "?")
		return nil
	}

	n := &node{name: *rec.Basename, parent: parent}

	var flags int
	if rec.Flags == nil || json.Unmarshal(rec.Flags, &flags) != nil {
		warn("flags", n.name)
		return nil
	}
	n.setFlags(flags)

	ts, err := parseSnapshotTime(rec.TSSuccess)
	if err != nil {
		warn("ts_success", n.name)
		return nil
	}
	n.lastSuccess = ts

	ts, err = parseSnapshotTime(rec.TSAttempt)
	if err != nil {
		warn("ts_attempt", n.name)
		return nil
	}
	n.lastAttempt = ts

	var code int
	if rec.Error == nil || json.Unmarshal(rec.Error, &code) != nil {
		warn("error", n.name)
		return nil
	}
	n.lastError = code

	if rec.Children != nil {
		var children []json.RawMessage
		if json.Unmarshal(rec.Children, &children) != nil {
			warn("children", n.name)
			return nil
		}
		for _, cr := range children {
			child := c.decodeNode(cr, n)
			if child == nil {
				// 子记录损坏时整条父记录一并作废
				n.deleteSubtree(true)
				return nil
			}
			n.attach(child)
		}
	}

	return n
}

func parseSnapshotTime(s *string) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	return time.Parse(timeLayout, *s)
}

// encodeNode 是解码的镜像变换：节点→记录，递归携带子节点。
func encodeNode(n *node) *nodeRecord {
	rec := &nodeRecord{
		Basename:  n.name,
		Flags:     n.flags(),
		TSSuccess: n.lastSuccess.Format(timeLayout),
		TSAttempt: n.lastAttempt.Format(timeLayout),
		Error:     n.lastError,
	}
	for _, child := range n.children {
		rec.Children = append(rec.Children, encodeNode(child))
	}
	return rec
}

// writeMetadata 将（已完成 cleanup 的）两棵树序列化回 metadata.json。
// 写入走临时文件 + rename，半成品快照比没有快照更糟。
// 编码或写盘失败只记日志，验证轮次照常结束。
func (c *Cache) writeMetadata() {
	fields := logrus.Fields{
		"action": "metadata_write",
		"run_id": c.runID,
	}

	records := []*nodeRecord{encodeNode(c.rsync), encodeNode(c.https)}
	buf, err := json.Marshal(records)
	if err != nil {
		c.logger.WithFields(fields).Errorf("无法编码 metadata.json: %v", err)
		return
	}

	tmp, err := os.CreateTemp(c.repo, ".metadata-*")
	if err != nil {
		c.logger.WithFields(fields).Errorf("无法创建 metadata.json 临时文件: %v", err)
		return
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(buf)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		c.logger.WithFields(fields).Errorf("无法写入 metadata.json: %v", err)
		return
	}

	if err := os.Rename(tmpName, filepath.Join(c.repo, MetadataFilename)); err != nil {
		os.Remove(tmpName)
		c.logger.WithFields(fields).Errorf("无法落盘 metadata.json: %v", err)
	}
}
