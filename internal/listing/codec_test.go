package listing

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulikunitz/xz"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	orig := MustNew(
		file("a/b.txt", 10, mt(100.5), map[string]string{"md5": "aa"}),
		file("c.bin", 0, nil, nil),
		file("z", 1<<40, mt(1.75e9), map[string]string{"sha1": "ss", "md5": "mm"}),
	)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, orig))

	got, err := Decode(&buf)
	require.NoError(t, err)

	require.Equal(t, orig.Len(), got.Len())

	for _, p := range orig.SortedPaths() {
		want := orig.GetPath(p)
		have := got.GetPath(p)

		require.NotNil(t, have, p)
		assert.Equal(t, want.Size, have.Size, p)
		assert.Equal(t, want.ModTime, have.ModTime, p)
		assert.Equal(t, want.Hashes, have.Hashes, p)
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	raw := `[{"Path":"a","Size":3,"mtime":12.5,"Hashes":{"md5":"aa"},"Tier":"hot","ID":"xyz"}]`

	var buf bytes.Buffer

	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)

	_, err = xw.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	l, err := Decode(&buf)
	require.NoError(t, err)

	f := l.GetPath("a")
	require.NotNil(t, f)
	assert.Equal(t, int64(3), f.Size)
	assert.Equal(t, 12.5, *f.ModTime)

	// Unknown fields survive the read but are never written back.
	assert.Len(t, f.extra, 2)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "Tier")
	assert.NotContains(t, string(out), "xyz")
}

func TestDecodeGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode(bytes.NewReader([]byte("not xz data")))
	assert.Error(t, err)
}

func TestEncodeNullMtimeOnWire(t *testing.T) {
	t.Parallel()

	f := file("a", 1, nil, nil)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Path":"a","Size":1,"mtime":null}`, string(out))
}
