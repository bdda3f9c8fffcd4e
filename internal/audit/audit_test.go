package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail", "audit.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write(Record{
		Direction: DirectionRequest,
		Provider:  "openai",
		Model:     "gpt-4o",
		Payload:   json.RawMessage(`{"model":"gpt-4o"}`),
	}))
	require.NoError(t, sink.Write(Record{
		Direction: DirectionResponse,
		Provider:  "openai",
		Model:     "gpt-4o",
	}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 2)
	assert.Equal(t, DirectionRequest, records[0].Direction)
	assert.Equal(t, DirectionResponse, records[1].Direction)
	assert.False(t, records[0].Timestamp.IsZero())
	assert.JSONEq(t, `{"model":"gpt-4o"}`, string(records[0].Payload))
}

func TestNilSinkIsNoOp(t *testing.T) {
	var sink *FileSink
	assert.NoError(t, sink.Write(Record{Direction: DirectionRequest}))
	assert.NoError(t, sink.Close())
}
