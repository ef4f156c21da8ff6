package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no placeholders",
			in:   "SELECT 1",
			want: "SELECT 1",
		},
		{
			name: "numbered in order",
			in:   "INSERT INTO t (a, b, c) VALUES (?, ?, ?)",
			want: "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		},
		{
			name: "reused across clauses",
			in:   "UPDATE t SET a = ? WHERE b = ? AND c = ?",
			want: "UPDATE t SET a = $1 WHERE b = $2 AND c = $3",
		},
		{
			name: "question mark inside string literal",
			in:   "SELECT * FROM t WHERE a = '?' AND b = ?",
			want: "SELECT * FROM t WHERE a = '?' AND b = $1",
		},
		{
			name: "escaped quote inside literal",
			in:   "SELECT 'it''s a ?' , ?",
			want: "SELECT 'it''s a ?' , $1",
		},
		{
			name: "double digits",
			in:   "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			want: "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rebindPostgresPlaceholders(tc.in))
		})
	}
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
}
