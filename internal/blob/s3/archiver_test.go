package s3blob

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePathUniquePerRun(t *testing.T) {
	first := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	a := archivePath("positions", first)
	b := archivePath("positions", second)

	assert.Equal(t, "archive/positions/2026/08/20260801T060000Z.jsonl", a)
	assert.NotEqual(t, a, b, "runs in the same month must not share an object key")
	assert.True(t, strings.HasPrefix(b, "archive/positions/2026/08/"))
}

func TestArchivePathSeparatesKinds(t *testing.T) {
	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, archivePath("positions", cutoff), archivePath("sizing_audits", cutoff))
}

func TestMarshalJSONL(t *testing.T) {
	type rec struct {
		ID string `json:"id"`
	}
	buf, err := marshalJSONL([]rec{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	require.Len(t, lines, 2)
	var got rec
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "b", got.ID)
}
