// ABOUTME: Tests for FrameReader line splitting, chunk-boundary independence, and oversize handling
// ABOUTME: Exercises every two-way split point plus seeded random partitions

package acp

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
)

func collectFrames(r *FrameReader) []string {
	var out []string
	for f := range r.Frames() {
		out = append(out, string(f))
	}
	return out
}

func feedChunks(maxFrame int, chunks ...string) ([]string, int) {
	r := NewFrameReader(maxFrame)
	var out []string
	for _, c := range chunks {
		r.Feed([]byte(c))
		out = append(out, collectFrames(r)...)
	}
	return out, r.Dropped()
}

const helloChunkFrames = `{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"Hel"}}}}` + "\n" +
	`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"lo"}}}}` + "\n"

func TestFrameReader_SplitsLines(t *testing.T) {
	t.Parallel()

	r := NewFrameReader(0)
	r.Feed([]byte("a\nb\r\n\n\n c"))
	got := collectFrames(r)
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("frames = %q, want [a b]", got)
	}
	if r.Buffered() != 2 {
		t.Errorf("Buffered() = %d, want 2", r.Buffered())
	}

	r.Feed([]byte("\n"))
	got = collectFrames(r)
	if !slices.Equal(got, []string{" c"}) {
		t.Errorf("frames = %q, want [\" c\"]", got)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", r.Buffered())
	}
}

func TestFrameReader_TwoFramesInThreeChunks(t *testing.T) {
	t.Parallel()

	a, b := 17, len(helloChunkFrames)/2+5
	got, _ := feedChunks(0, helloChunkFrames[:a], helloChunkFrames[a:b], helloChunkFrames[b:])
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !strings.Contains(got[0], `"Hel"`) || !strings.Contains(got[1], `"lo"`) {
		t.Errorf("frames out of order: %q", got)
	}
}

func TestFrameReader_EverySplitPoint(t *testing.T) {
	t.Parallel()

	input := helloChunkFrames + "x\r\n\n" + `{"id":1}` + "\npartial"
	want, _ := feedChunks(0, input)
	if len(want) != 4 {
		t.Fatalf("baseline frames = %d, want 4", len(want))
	}
	for i := 0; i <= len(input); i++ {
		got, _ := feedChunks(0, input[:i], input[i:])
		if !slices.Equal(got, want) {
			t.Fatalf("split at %d: got %q, want %q", i, got, want)
		}
	}
}

func TestFrameReader_RandomPartitions(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	var sb strings.Builder
	for i := range 200 {
		sb.WriteString(strings.Repeat("y", rng.IntN(40)))
		if i%7 == 0 {
			sb.WriteByte('\r')
		}
		sb.WriteByte('\n')
	}
	input := sb.String()

	for _, maxFrame := range []int{0, 25} {
		want, wantDropped := feedChunks(maxFrame, input)
		for range 100 {
			var chunks []string
			rest := input
			for len(rest) > 0 {
				n := 1 + rng.IntN(64)
				n = min(n, len(rest))
				chunks = append(chunks, rest[:n])
				rest = rest[n:]
			}
			got, dropped := feedChunks(maxFrame, chunks...)
			if !slices.Equal(got, want) {
				t.Fatalf("max %d: partition changed frames", maxFrame)
			}
			if dropped != wantDropped {
				t.Fatalf("max %d: dropped = %d, want %d", maxFrame, dropped, wantDropped)
			}
		}
	}
}

func TestFrameReader_Oversized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
	}{
		{"complete line", []string{"0123456789abc\nok\n"}},
		{"partial then rest", []string{"0123456789", "abc\nok\n"}},
		{"byte by byte", strings.Split("0123456789abc\nok\n", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, dropped := feedChunks(8, tt.chunks...)
			if !slices.Equal(got, []string{"ok"}) {
				t.Errorf("frames = %q, want [ok]", got)
			}
			if dropped != 1 {
				t.Errorf("dropped = %d, want 1", dropped)
			}
		})
	}
}

func TestFrameReader_LimitIgnoresCarriageReturn(t *testing.T) {
	t.Parallel()

	got, dropped := feedChunks(4, "abcd\r", "\n")
	if !slices.Equal(got, []string{"abcd"}) || dropped != 0 {
		t.Errorf("frames = %q dropped = %d, want [abcd] 0", got, dropped)
	}
}

func TestFrameReader_FramesAreCopies(t *testing.T) {
	t.Parallel()

	r := NewFrameReader(0)
	r.Feed([]byte("abc\n"))
	var first []byte
	for f := range r.Frames() {
		first = f
	}
	r.Feed([]byte("xyz\n"))
	_ = collectFrames(r)
	if string(first) != "abc" {
		t.Errorf("earlier frame mutated to %q", first)
	}
}

func TestFrameReader_BreakKeepsRemaining(t *testing.T) {
	t.Parallel()

	r := NewFrameReader(0)
	r.Feed([]byte("1\n2\n3\n"))
	for f := range r.Frames() {
		if string(f) != "1" {
			t.Errorf("first frame = %q", f)
		}
		break
	}
	if got := collectFrames(r); !slices.Equal(got, []string{"2", "3"}) {
		t.Errorf("remaining = %q, want [2 3]", got)
	}
}
