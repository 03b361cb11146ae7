package channel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameStrings(t *testing.T, f *frameBuffer, chunk string) ([]string, int) {
	t.Helper()
	frames, errs := f.feed([]byte(chunk))
	out := make([]string, len(frames))
	for i, fr := range frames {
		out[i] = string(fr)
	}
	return out, len(errs)
}

func TestFrameBuffer_SplitAcrossChunks(t *testing.T) {
	var f frameBuffer

	frames, errs := frameStrings(t, &f, `{"id":1,"incompl`)
	assert.Empty(t, frames)
	assert.Zero(t, errs)
	assert.Equal(t, len(`{"id":1,"incompl`), f.pending())

	frames, errs = frameStrings(t, &f, "ete\":true}\n")
	assert.Equal(t, []string{`{"id":1,"incomplete":true}`}, frames)
	assert.Zero(t, errs)
	assert.Zero(t, f.pending())
}

func TestFrameBuffer_CompleteTailWithoutNewline(t *testing.T) {
	var f frameBuffer

	frames, errs := frameStrings(t, &f, `{"id":1}`)
	assert.Equal(t, []string{`{"id":1}`}, frames)
	assert.Zero(t, errs)
}

func TestFrameBuffer_SeveralPerChunk(t *testing.T) {
	var f frameBuffer

	frames, errs := frameStrings(t, &f, "{\"id\":1}\n\n  {\"id\":2}\r\n{\"id\":3")
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, frames)
	assert.Zero(t, errs)

	frames, _ = frameStrings(t, &f, "}\n")
	assert.Equal(t, []string{`{"id":3}`}, frames)
}

func TestFrameBuffer_TruncatedLineDoesNotSwallowNext(t *testing.T) {
	var f frameBuffer

	frames, errs := frameStrings(t, &f, "{\"id\":1,\"x\":\n{\"id\":2,\"ok\":true}\n")
	assert.Equal(t, []string{`{"id":2,"ok":true}`}, frames)
	assert.Equal(t, 1, errs)
	assert.Zero(t, f.pending())
}

func TestFrameBuffer_LargeValueInSmallChunks(t *testing.T) {
	var f frameBuffer

	payload := `{"id":9,"data":"` + strings.Repeat("x", 4<<20) + `"}` + "\n"
	var frames []string
	for len(payload) > 0 {
		n := min(64<<10, len(payload))
		got, errs := frameStrings(t, &f, payload[:n])
		require.Zero(t, errs)
		frames = append(frames, got...)
		payload = payload[n:]
	}
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 4<<20+len(`{"id":9,"data":""}`))
	assert.Zero(t, f.pending())
}

func TestFrameBuffer_MalformedLineDropped(t *testing.T) {
	var f frameBuffer

	frames, errs := frameStrings(t, &f, "Traceback (most recent call last)\n{\"id\":2}\n")
	assert.Equal(t, []string{`{"id":2}`}, frames)
	assert.Equal(t, 1, errs)

	_, errs = frameStrings(t, &f, `{"id":1,"x":tru`+"\n")
	assert.Equal(t, 1, errs)
	assert.Zero(t, f.pending())
}

func TestFrameBuffer_MaxSize(t *testing.T) {
	f := frameBuffer{max: 16}

	_, errs := f.feed([]byte(`{"data":"` + strings.Repeat("x", 32)))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFrameTooLarge)
	assert.Zero(t, f.pending())

	frames, nerrs := frameStrings(t, &f, strings.Repeat("x", 20)+"\"}\n{\"id\":3}\n")
	assert.Equal(t, []string{`{"id":3}`}, frames)
	assert.Zero(t, nerrs)
}
