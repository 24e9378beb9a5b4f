package sqlbind

import (
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_RepeatedNames(t *testing.T) {
	tmpl := Compile("SELECT * FROM t WHERE a = #{a} AND b = #{b} OR a2 = #{a}")

	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ? OR a2 = ?", tmpl.SQL)
	assert.Equal(t, []string{"a", "b", "a"}, tmpl.Names)

	args := tmpl.Args(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, []any{1, 2, 1}, args)
	assert.Equal(t, strings.Count(tmpl.SQL, Marker), len(args))
}

func TestCompile_NoPlaceholders(t *testing.T) {
	tmpl := Compile("SELECT 1")
	assert.Equal(t, "SELECT 1", tmpl.SQL)
	assert.Empty(t, tmpl.Names)
	assert.Empty(t, tmpl.Args(map[string]any{"a": 1}))
}

func TestArgs_MissingNameBindsNil(t *testing.T) {
	tmpl := Compile("UPDATE users SET name = #{name} WHERE id = #{id}")

	args := tmpl.Args(map[string]any{"id": 7})
	assert.Equal(t, []any{nil, 7}, args)
	assert.Equal(t, []string{"name"}, tmpl.Missing(map[string]any{"id": 7}))
	assert.Empty(t, tmpl.Missing(map[string]any{"id": 7, "name": nil}))
}

func TestArgs_NilMap(t *testing.T) {
	tmpl := Compile("SELECT #{x}")
	assert.Equal(t, []any{nil}, tmpl.Args(nil))
}

func TestCompile_IgnoresMalformedPlaceholders(t *testing.T) {
	tmpl := Compile("SELECT '#{' , #{ok}, #{bad-name}, #{}")
	assert.Equal(t, []string{"ok"}, tmpl.Names)
	assert.Equal(t, "SELECT '#{' , ?, #{bad-name}, #{}", tmpl.SQL)
}

func TestBind(t *testing.T) {
	sqlText, args := Bind("SELECT id,name FROM users WHERE id=#{userId}", map[string]any{"userId": 1})
	assert.Equal(t, "SELECT id,name FROM users WHERE id=?", sqlText)
	assert.Equal(t, []any{1}, args)
}

func TestRebind(t *testing.T) {
	compiled := Compile("SELECT * FROM t WHERE a = #{a} AND b = #{b}").SQL

	t.Run("question", func(t *testing.T) {
		out, err := Rebind(compiled, sq.Question)
		require.NoError(t, err)
		assert.Equal(t, compiled, out)
	})
	t.Run("nil", func(t *testing.T) {
		out, err := Rebind(compiled, nil)
		require.NoError(t, err)
		assert.Equal(t, compiled, out)
	})
	t.Run("dollar", func(t *testing.T) {
		out, err := Rebind(compiled, sq.Dollar)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", out)
	})
	t.Run("colon", func(t *testing.T) {
		out, err := Rebind(compiled, sq.Colon)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE a = :1 AND b = :2", out)
	})
}
