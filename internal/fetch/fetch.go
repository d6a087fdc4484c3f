package fetch

import "fmt"

// 结果码随缓存快照落盘，跨运行保存，因此取值必须稳定。
const (
	CodeTransfer   = 1 // 未细分的传输失败
	CodeNetwork    = 2 // 连接/超时等网络层失败
	CodeHTTPStatus = 3 // 上游返回了非预期状态码
	CodeLocalIO    = 4 // 本地磁盘写入失败
	CodeRsyncExit  = 5 // rsync 进程以非零码退出
)

// Error 携带结果码的下载错误。缓存层通过 ErrorCode 提取结果码记到节点上。
type Error struct {
	Code int
	Op   string
	URI  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode 返回可落盘的整数结果码。
func (e *Error) ErrorCode() int {
	return e.Code
}
