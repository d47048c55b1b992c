package tcp

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/testutil"
)

func collect(t *testing.T, r io.Reader) [][]byte {
	t.Helper()
	var f Framer
	var docs [][]byte
	err := f.Scan(r, func(doc []byte) error {
		docs = append(docs, doc)
		return nil
	})
	require.NoError(t, err)
	return docs
}

// chunkReader returns at most n bytes per Read
type chunkReader struct {
	data string
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.data == "" {
		return 0, io.EOF
	}
	size := c.n
	if size > len(p) {
		size = len(p)
	}
	if size > len(c.data) {
		size = len(c.data)
	}
	copy(p, c.data[:size])
	c.data = c.data[size:]
	return size, nil
}

func sampleStream() (string, []map[string]any) {
	docs := []map[string]any{
		testutil.CAMFixture{StationID: 1, Lat: 498355000, Lon: 181580000, Speed: testutil.Int(600)}.Document(),
		testutil.DENMFixture{StationID: 2, SequenceNumber: 3, Traces: [][][3]int64{{{1, 2, 3}}}}.Document(),
		testutil.SSEMFixture{StationID: 3, IntersectionID: 5, Responses: []testutil.ResponseFixture{{RequestID: 7}}}.Document(),
	}
	return testutil.Stream(docs...), docs
}

func TestFramer_RecoversArrayElements(t *testing.T) {
	stream, docs := sampleStream()

	got := collect(t, strings.NewReader(stream))

	// The last element is never followed by a separator and stays buffered
	require.Len(t, got, len(docs)-1)
	for i, raw := range got {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded), "document %d must be valid JSON", i)
		assert.Equal(t, testutil.JSON(docs[i]), testutil.JSON(decoded))
	}
}

func TestFramer_SplitIdempotence(t *testing.T) {
	stream, _ := sampleStream()
	want := collect(t, strings.NewReader(stream))
	require.NotEmpty(t, want)

	tests := []struct {
		name   string
		reader io.Reader
	}{
		{"one byte at a time", iotest.OneByteReader(strings.NewReader(stream))},
		{"half reads", iotest.HalfReader(strings.NewReader(stream))},
		{"7 byte chunks", &chunkReader{data: stream, n: 7}},
		{"4k chunks", &chunkReader{data: stream, n: 4096}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, want, collect(t, tt.reader))
		})
	}
}

func TestFramer_Push(t *testing.T) {
	var f Framer

	lines := []string{"[", "  {", `    "a": "1"`, "  },", "  {", `    "b": "2"`, "  },", "  {"}
	var docs []string
	for _, line := range lines {
		if doc, ok := f.Push(line); ok {
			docs = append(docs, string(doc))
		}
	}

	require.Len(t, docs, 2)
	assert.Equal(t, `  {    "a": "1"  }`, docs[0])
	assert.Equal(t, `  {    "b": "2"  }`, docs[1])
	assert.Equal(t, len("  {"), f.Pending())

	f.Reset()
	assert.Zero(t, f.Pending())
	_, ok := f.Push("{")
	assert.False(t, ok, "reset clears the pending boundary")
}

func TestFramer_CRLFAndUnterminatedLastLine(t *testing.T) {
	stream := "[\r\n{\r\n\"a\": \"1\"\r\n},\r\n{"
	got := collect(t, strings.NewReader(stream))
	require.Len(t, got, 1)
	assert.Equal(t, `{"a": "1"}`, string(got[0]))
}

func TestFramer_ScanStopsOnEmitError(t *testing.T) {
	stream, _ := sampleStream()
	var f Framer
	calls := 0
	err := f.Scan(strings.NewReader(stream), func([]byte) error {
		calls++
		return errStopped
	})
	assert.ErrorIs(t, err, errStopped)
	assert.Equal(t, 1, calls)
}

func TestFramer_CapsPendingText(t *testing.T) {
	var dropped []int
	f := Framer{MaxPending: 64, OnOverflow: func(n int) { dropped = append(dropped, n) }}

	f.Push("[")
	f.Push("  {")
	for i := 0; i < 100; i++ {
		_, ok := f.Push(`    "k": "v",`)
		require.False(t, ok)
		require.LessOrEqual(t, f.Pending(), 64)
	}
	assert.NotEmpty(t, dropped)
	for _, n := range dropped {
		assert.Greater(t, n, 64)
	}

	// Framing resumes at the next boundary
	f.Reset()
	f.Push("  {")
	f.Push(`    "a": "1"`)
	f.Push("  },")
	doc, ok := f.Push("  {")
	require.True(t, ok)
	assert.Equal(t, `  {    "a": "1"  }`, string(doc))
}

func TestFramer_SkipsOverlongLine(t *testing.T) {
	stream, _ := sampleStream()
	want := collect(t, strings.NewReader(stream))

	overflows := 0
	f := Framer{MaxPending: 16 << 10, OnOverflow: func(int) { overflows++ }}
	var got [][]byte
	garbage := strings.Repeat("x", 40<<10) + "\n"
	err := f.Scan(strings.NewReader(garbage+stream), func(doc []byte) error {
		got = append(got, doc)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, overflows)
	assert.Equal(t, want, got)
}
