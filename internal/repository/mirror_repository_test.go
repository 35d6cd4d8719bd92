package repository

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

// 镜像 upsert 走 MySQL 的 ON DUPLICATE KEY UPDATE，该语法没有 WHERE 守卫，
// 乱序到达的旧版本只能靠逐列条件赋值挡住。这里校验赋值列表的形状。
func TestMirrorUpsertAssignmentsGuardVersion(t *testing.T) {
	assignments := mirrorUpsertAssignments()
	require.NotEmpty(t, assignments)

	for _, a := range assignments {
		expr, ok := a.Value.(clause.Expr)
		require.True(t, ok, "列 %s 的赋值必须是条件表达式", a.Column.Name)
		assert.Contains(t, expr.SQL, "IF(VALUES(version) > version",
			"列 %s 的赋值缺少版本守卫", a.Column.Name)
		assert.Contains(t, expr.SQL, fmt.Sprintf("VALUES(%s)", a.Column.Name))
	}
}

// MySQL 对赋值列表从左到右求值：version 一旦先被改写，
// 后续列的守卫比较读到的就是新版本号，守卫随之失效。
func TestMirrorUpsertAssignmentsVersionLast(t *testing.T) {
	assignments := mirrorUpsertAssignments()
	require.NotEmpty(t, assignments)

	assert.Equal(t, "version", assignments[len(assignments)-1].Column.Name)
	for _, a := range assignments[:len(assignments)-1] {
		assert.NotEqual(t, "version", a.Column.Name)
	}
}
