package cache

import "time"

// 快照中 flags 字段的位值。visited 位从不落盘，但保留槽位以兼容旧快照。
const (
	flagDirect    = 1 << 0
	flagSucceeded = 1 << 1
	flagVisited   = 1 << 2
	flagFile      = 1 << 3
)

// node 对应仓库路径中的一个路径段。direct 表示该节点本身曾是下载目标，
// 而不是仅作为某个下载目标的祖先被创建；succeeded/lastError/两个时间戳
// 只有在 direct 置位时才有意义，记录下载结果时三者总是一并写入。
// isFile 仅在 HTTPS 树里有意义：rsync 不会告诉我们路径是文件还是目录。
type node struct {
	name string

	direct    bool
	succeeded bool
	isFile    bool
	visited   bool // 仅在 cleanup 遍历期间使用，遍历结束即清除

	lastSuccess time.Time
	lastAttempt time.Time
	lastError   int

	parent   *node
	children map[string]*node
}

// newRoot 创建无父节点的协议树根。两棵根永不被 cleanup 删除。
func newRoot(name string) *node {
	return &node{name: name}
}

func (n *node) isRoot() bool {
	return n.parent == nil
}

// addChild 创建并挂接一个新子节点。同名兄弟不允许存在，调用方需先 findChild。
func (n *node) addChild(name string) *node {
	child := &node{name: name, parent: n}
	n.attach(child)
	return child
}

// attach 将已构造好的子节点挂入 children 映射。
func (n *node) attach(child *node) {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	n.children[child.name] = child
}

// findChild 按路径段名查找直接子节点，不存在时返回 nil。
func (n *node) findChild(name string) *node {
	return n.children[name]
}

// deleteSubtree 递归释放节点及其全部后代，并从父节点解除挂接。
// 根节点只有在 force 置位时才会被释放（快照加载失败的清理、进程收尾），
// 否则结构上保留：协议的空基目录在两次运行之间仍然有效。
func (n *node) deleteSubtree(force bool) {
	for _, child := range n.children {
		child.deleteSubtree(force)
	}
	if force || !n.isRoot() {
		if n.parent != nil {
			delete(n.parent.children, n.name)
		}
		n.parent = nil
		n.children = nil
	}
}

// dropChildren 丢弃全部子节点。一次 direct 下载之后旧的子节点记录不再可信：
// rsync 成功意味着整棵子树已被镜像覆盖，失败则状态未知。
func (n *node) dropChildren() {
	for _, child := range n.children {
		child.deleteSubtree(false)
	}
}

// resetFlags 在路径形态发生文件/目录切换时清空节点状态，等待重新记录。
func (n *node) resetFlags() {
	n.direct = false
	n.succeeded = false
	n.isFile = false
	n.lastError = 0
}

// fresh 判断节点是否在本轮验证开始之后已被直接下载过。
// 注意这里只看"尝试过"而不看成败：同一轮内失败的下载不会重试。
func (n *node) fresh(startup time.Time) bool {
	return n.direct && !n.lastAttempt.Before(startup)
}

// flags 汇总用于快照落盘的位掩码；visited 是瞬态标记，从不写入。
func (n *node) flags() int {
	f := 0
	if n.direct {
		f |= flagDirect
	}
	if n.succeeded {
		f |= flagSucceeded
	}
	if n.isFile {
		f |= flagFile
	}
	return f
}

// setFlags 从快照位掩码恢复状态位，忽略遗留的 visited 位。
func (n *node) setFlags(f int) {
	n.direct = f&flagDirect != 0
	n.succeeded = f&flagSucceeded != 0
	n.isFile = f&flagFile != 0
}
