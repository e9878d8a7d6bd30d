package stream

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixedText = "héllo wörld — 价格 € 😀 done"

func decodeChunks(chunks [][]byte) (string, []string) {
	dec := NewDecoder()
	var sb strings.Builder
	var fragments []string
	for _, c := range chunks {
		f := dec.Decode(c)
		fragments = append(fragments, f)
		sb.WriteString(f)
	}
	tail := dec.Flush()
	sb.WriteString(tail)
	return sb.String(), fragments
}

func TestDecoder_EverySplitPoint(t *testing.T) {
	raw := []byte(mixedText)
	for i := 0; i <= len(raw); i++ {
		got, _ := decodeChunks([][]byte{raw[:i], raw[i:]})
		require.Equal(t, mixedText, got, "split at byte %d", i)
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	raw := []byte(mixedText)
	chunks := make([][]byte, len(raw))
	for i := range raw {
		chunks[i] = raw[i : i+1]
	}

	got, fragments := decodeChunks(chunks)
	assert.Equal(t, mixedText, got)

	// The first byte of the emoji completes nothing on its own.
	emoji := strings.Index(mixedText, "😀")
	assert.Equal(t, "", fragments[emoji])
	assert.Equal(t, "😀", fragments[emoji+3])
}

func TestDecoder_RandomChunking(t *testing.T) {
	raw := []byte(strings.Repeat(mixedText, 20))
	want := string(raw)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(7)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got, fragments := decodeChunks(chunks)
		require.Equal(t, want, got)
		for _, f := range fragments {
			require.True(t, utf8.ValidString(f), "fragment must hold whole characters: %q", f)
		}
	}
}

func TestDecoder_Pending(t *testing.T) {
	dec := NewDecoder()
	euro := []byte("€")

	assert.Equal(t, "", dec.Decode(euro[:2]))
	assert.Equal(t, 2, dec.Pending())
	assert.Equal(t, "€", dec.Decode(euro[2:]))
	assert.Equal(t, 0, dec.Pending())
}

func TestDecoder_IllFormedBytes(t *testing.T) {
	dec := NewDecoder()

	got := dec.Decode([]byte{'a', 0xff, 'b'})

	assert.Equal(t, "a�b", got)
}

func TestDecoder_FlushTruncatedSequence(t *testing.T) {
	dec := NewDecoder()
	euro := []byte("€")

	assert.Equal(t, "ok", dec.Decode(append([]byte("ok"), euro[:2]...)))
	tail := dec.Flush()

	assert.NotEmpty(t, tail)
	assert.True(t, strings.HasPrefix(tail, "�"))
	assert.Equal(t, 0, dec.Pending())
	assert.Equal(t, "", dec.Flush())
}

func TestDecoder_EmptyChunk(t *testing.T) {
	dec := NewDecoder()
	assert.Equal(t, "", dec.Decode(nil))
	assert.Equal(t, "", dec.Decode([]byte{}))
}
