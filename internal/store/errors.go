// Package store 在账本网关之上实现类型化实体的增删改查语义：
// 分配实体标识、计算内容哈希、维护版本链标签，并从一组不可变写入中
// 解析出“当前状态”。
package store

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示经过权威检查后确认实体缺席。
// 只有在缺席是确定的情况下才返回它；网关故障必须用 QueryFailureError 区分。
var ErrNotFound = errors.New("实体不存在")

// ErrModelMismatch 表示试图比较由不同模型产生的嵌入向量，结果未定义。
var ErrModelMismatch = errors.New("嵌入模型不一致")

// WriteFailureError 表示账本提交失败，实体状态未发生变化。
// 引擎不做自动重试：部分提交后的重试有产生重复版本的风险，
// 重试策略（若有）属于调用方，可借助 contentHash 做幂等重交。
type WriteFailureError struct {
	Op    string
	Cause error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("账本提交失败 (%s): %v", e.Op, e.Cause)
}

func (e *WriteFailureError) Unwrap() error { return e.Cause }

// QueryFailureError 表示账本检索或取回出错，结果不确定。
// 它绝不能被当作“不存在”处理。
type QueryFailureError struct {
	Op    string
	Cause error
}

func (e *QueryFailureError) Error() string {
	return fmt.Sprintf("账本查询失败 (%s): %v", e.Op, e.Cause)
}

func (e *QueryFailureError) Unwrap() error { return e.Cause }

// IsWriteFailure 判断错误链中是否包含账本提交失败。
func IsWriteFailure(err error) bool {
	var wf *WriteFailureError
	return errors.As(err, &wf)
}

// IsQueryFailure 判断错误链中是否包含不确定的账本查询失败。
func IsQueryFailure(err error) bool {
	var qf *QueryFailureError
	return errors.As(err, &qf)
}
