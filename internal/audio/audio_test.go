package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLinearToMulaw_Silence(t *testing.T) {
	if got := LinearToMulaw(0); got != MulawSilence {
		t.Fatalf("LinearToMulaw(0) = 0x%02X, want 0xFF", got)
	}
}

func TestLinearToMulaw_Symmetry(t *testing.T) {
	for _, v := range []int16{1, 100, 1000, 20000} {
		pos, neg := LinearToMulaw(v), LinearToMulaw(-v)
		if pos^neg != 0x80 {
			t.Fatalf("%d: pos=0x%02X neg=0x%02X differ by more than the sign bit", v, pos, neg)
		}
	}
}

func TestLinearToMulaw_MinValueDoesNotOverflow(t *testing.T) {
	if got, want := LinearToMulaw(-32768), LinearToMulaw(-32767); got != want {
		t.Fatalf("LinearToMulaw(-32768) = 0x%02X, want 0x%02X", got, want)
	}
	if LinearToMulaw(-32768)&0x80 != 0 {
		t.Fatal("-32768 encoded with a positive sign")
	}
}

func TestLinearToMulaw_MonotonicPositive(t *testing.T) {
	prev := LinearToMulaw(0)
	for i := int16(100); i < 32000; i += 100 {
		cur := LinearToMulaw(i)
		if cur > prev {
			t.Fatalf("non-monotonic at %d: prev=0x%02X cur=0x%02X", i, prev, cur)
		}
		prev = cur
	}
}

func TestMulawRoundTripWithinQuantization(t *testing.T) {
	for _, x := range []int16{0, 4, -4, 100, 1000, -1000, 12345, -20000, 32767, -32768} {
		got := int32(MulawToLinear(LinearToMulaw(x)))
		diff := got - int32(x)
		if diff < 0 {
			diff = -diff
		}
		mag := int32(x)
		if mag < 0 {
			mag = -mag
		}
		if diff > mag/16+8 {
			t.Errorf("round trip of %d = %d (error %d)", x, got, diff)
		}
	}
}

func TestEncodeMulaw(t *testing.T) {
	out := EncodeMulaw([]byte{0xAA}, []int16{0, 0})
	if len(out) != 3 || out[0] != 0xAA || out[1] != 0xFF || out[2] != 0xFF {
		t.Fatalf("EncodeMulaw = %x", out)
	}
}

func TestRecorderWritesValidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "out.wav")
	r := NewRecorder(48000, 2)
	if err := r.RecordFrame([]int16{1, 2}, 0); err != nil {
		t.Fatalf("RecordFrame while idle: %v", err)
	}
	if err := r.StartRecording(path); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !r.IsRecording() {
		t.Fatal("IsRecording = false")
	}

	// Before finalize the size fields are placeholders.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != HeaderSize || binary.LittleEndian.Uint32(raw[4:]) != 0 || binary.LittleEndian.Uint32(raw[40:]) != 0 {
		t.Fatalf("unexpected placeholder header %x", raw)
	}

	for i := 0; i < 3; i++ {
		if err := r.RecordFrame([]int16{int16(i), -1, 300, -32768}, uint64(i*10)); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if err := r.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second StopRecording err = %v", err)
	}

	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	const dataBytes = 3 * 4 * 2
	if len(raw) != HeaderSize+dataBytes {
		t.Fatalf("file is %d bytes, want %d", len(raw), HeaderSize+dataBytes)
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", binary.LittleEndian.Uint32(raw[4:]), 36 + dataBytes},
		{"fmt size", binary.LittleEndian.Uint32(raw[16:]), 16},
		{"format", uint32(binary.LittleEndian.Uint16(raw[20:])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(raw[22:])), 2},
		{"sample rate", binary.LittleEndian.Uint32(raw[24:]), 48000},
		{"byte rate", binary.LittleEndian.Uint32(raw[28:]), 48000 * 4},
		{"block align", uint32(binary.LittleEndian.Uint16(raw[32:])), 4},
		{"bits", uint32(binary.LittleEndian.Uint16(raw[34:])), 16},
		{"data size", binary.LittleEndian.Uint32(raw[40:]), dataBytes},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:16]) != "WAVEfmt " || string(raw[36:40]) != "data" {
		t.Fatalf("bad chunk ids in %q", raw[:44])
	}
	if s := int16(binary.LittleEndian.Uint16(raw[HeaderSize+6:])); s != -32768 {
		t.Fatalf("last sample of first frame = %d", s)
	}
}

func TestRecorderRestartFinalizesPrevious(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "1.wav")
	r := NewRecorder(8000, 1)
	if err := r.StartRecording(first); err != nil {
		t.Fatal(err)
	}
	_ = r.RecordFrame(make([]int16, 80), 0)
	if err := r.StartRecording(filepath.Join(dir, "2.wav")); err != nil {
		t.Fatal(err)
	}
	defer r.StopRecording()

	raw, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(raw[40:]); got != 160 {
		t.Fatalf("first recording data size = %d, want 160", got)
	}
}

func writeWAV(t *testing.T, path string, sampleRate, channels int, samples []int16) {
	t.Helper()
	r := NewRecorder(sampleRate, channels)
	if err := r.StartRecording(path); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordFrame(samples, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.StopRecording(); err != nil {
		t.Fatal(err)
	}
}

func TestPlayPacesBlocksAndDeliversTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.wav")
	// 10 ms blocks at 1 kHz mono = 10 samples; 35 samples = 3 blocks + 5.
	samples := make([]int16, 35)
	for i := range samples {
		samples[i] = int16(i)
	}
	writeWAV(t, path, 1000, 1, samples)

	var got [][]int16
	var stamps []uint64
	start := time.Now()
	n, err := Play(context.Background(), path, 1000, 1, 10, func(s []int16, ts uint64) {
		got = append(got, append([]int16(nil), s...))
		stamps = append(stamps, ts)
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if n != 4 || len(got) != 4 {
		t.Fatalf("delivered %d blocks, want 4", n)
	}
	for i, block := range got {
		want := 10
		if i == 3 {
			want = 5
		}
		if len(block) != want || block[0] != int16(i*10) {
			t.Fatalf("block %d = %v", i, block)
		}
		if stamps[i] != uint64(i*10) {
			t.Fatalf("block %d timestamp = %d", i, stamps[i])
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("playback not paced: %v", elapsed)
	}
}

func TestRecordPlayRoundTrip(t *testing.T) {
	tests := []struct {
		rate, channels, frames int
	}{
		{8000, 1, 100},
		{8000, 1, 160},
		{16000, 2, 333},
		{44100, 2, 1330},
		{48000, 1, 1},
		{8000, 2, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dHz_%dch_%d", tt.rate, tt.channels, tt.frames), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rt.wav")
			in := make([]int16, tt.frames*tt.channels)
			for i := range in {
				in[i] = int16(i*37 - 5000)
			}
			writeWAV(t, path, tt.rate, tt.channels, in)

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if got, want := binary.LittleEndian.Uint32(raw[40:]), uint32(len(in)*2); got != want {
				t.Fatalf("data size = %d, want %d", got, want)
			}

			var out []int16
			if _, err := Play(context.Background(), path, tt.rate, tt.channels, 10, func(s []int16, _ uint64) {
				out = append(out, s...)
			}); err != nil {
				t.Fatalf("Play: %v", err)
			}
			if len(out) != len(in) {
				t.Fatalf("recorded %d samples, played back %d", len(in), len(out))
			}
			for i := range in {
				if out[i] != in[i] {
					t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
				}
			}
		})
	}
}

func TestPlayErrors(t *testing.T) {
	if _, err := Play(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), 8000, 1, 20, func([]int16, uint64) {}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Play(context.Background(), "x.wav", 8000, 1, 0, func([]int16, uint64) {}); err == nil {
		t.Fatal("expected error for zero frame duration")
	}
}

func TestPacketizerDecimatesToMono8k(t *testing.T) {
	var frames [][]byte
	p := NewMulawPacketizer(16000, 2, func(b []byte) { frames = append(frames, b) })

	// 40 ms of 16 kHz stereo silence: 640 frames, 1280 samples -> 320 output samples.
	p.Write(make([]int16, 1280))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for _, f := range frames {
		if len(f) != MulawFrameBytes {
			t.Fatalf("frame is %d bytes", len(f))
		}
		for _, b := range f {
			if b != MulawSilence {
				t.Fatalf("silence encoded as 0x%02X", b)
			}
		}
	}
}

func TestPacketizerKeepsRateForFractionalRatio(t *testing.T) {
	frames := 0
	p := NewMulawPacketizer(44100, 1, func([]byte) { frames++ })

	// 2 s of 44.1 kHz mono is 16000 output samples, 100 frames.
	p.Write(make([]int16, 2*44100))
	if frames < 99 || frames > 100 {
		t.Fatalf("got %d frames for 2 s of audio, want 100", frames)
	}
}

func TestToneSourceStops(t *testing.T) {
	src := NewToneSource(8000, 1, 5)
	var mu sync.Mutex
	count := 0
	if err := src.Start(func(s []int16, _ uint64) {
		if len(s) != 40 {
			t.Errorf("frame has %d samples, want 40", len(s))
		}
		mu.Lock()
		count++
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	if err := src.Start(func([]int16, uint64) {}); err == nil {
		t.Fatal("second Start should fail")
	}
	time.Sleep(30 * time.Millisecond)
	src.Stop()

	mu.Lock()
	frozen := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != frozen {
		t.Fatal("callback after Stop")
	}
	if frozen == 0 {
		t.Fatal("no frames produced")
	}
}
