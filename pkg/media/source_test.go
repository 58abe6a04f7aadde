package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a minimal IVF file with the given frames
func writeIVF(t *testing.T, fourCC string, frames ...[]byte) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], fourCC)
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	data := header
	for i, frame := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "screen.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestOpenIVF(t *testing.T) {
	t.Parallel()

	t.Run("reads frames and loops", func(t *testing.T) {
		t.Parallel()
		path := writeIVF(t, "VP80", []byte{1, 2, 3}, []byte{4, 5})

		src, err := OpenIVF(path, time.Second)
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, webrtc.MimeTypeVP8, src.MimeType())

		for _, want := range [][]byte{{1, 2, 3}, {4, 5}, {1, 2, 3}} {
			s, err := src.NextSample()
			require.NoError(t, err)
			assert.Equal(t, want, s.Data)
			assert.InDelta(t, float64(time.Second/30), float64(s.Duration), float64(time.Millisecond))
		}
	})

	t.Run("vp9", func(t *testing.T) {
		t.Parallel()
		src, err := OpenIVF(writeIVF(t, "VP90", []byte{9}), time.Second)
		require.NoError(t, err)
		defer src.Close()
		assert.Equal(t, webrtc.MimeTypeVP9, src.MimeType())
	})

	t.Run("unsupported codec", func(t *testing.T) {
		t.Parallel()
		_, err := OpenIVF(writeIVF(t, "AV01", []byte{1}), time.Second)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := OpenIVF(filepath.Join(t.TempDir(), "nope.ivf"), time.Second)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

// writeOgg writes an Ogg/Opus file with one page per payload, 20ms apart
func writeOgg(t *testing.T, payloads ...[]byte) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 2)
	require.NoError(t, err)
	for i, payload := range payloads {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Timestamp: 1000 + uint32(i)*960},
			Payload: payload,
		}))
	}

	path := filepath.Join(t.TempDir(), "screen.ogg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestOpenOgg(t *testing.T) {
	t.Parallel()

	t.Run("reads pages and loops", func(t *testing.T) {
		t.Parallel()
		src, err := OpenOgg(writeOgg(t, []byte{1, 2}, []byte{3}, []byte{4, 5, 6}))
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, webrtc.MimeTypeOpus, src.MimeType())

		// the first page of a pass starts at granule 1, later pages 960 samples apart
		first := time.Second / 48000
		tests := []struct {
			data     []byte
			duration time.Duration
		}{
			{[]byte{1, 2}, first},
			{[]byte{3}, 20 * time.Millisecond},
			{[]byte{4, 5, 6}, 20 * time.Millisecond},
			{[]byte{1, 2}, first},
			{[]byte{3}, 20 * time.Millisecond},
		}
		for _, tt := range tests {
			s, err := src.NextSample()
			require.NoError(t, err)
			assert.Equal(t, tt.data, s.Data)
			assert.Equal(t, tt.duration, s.Duration)
		}
	})

	t.Run("no audio pages", func(t *testing.T) {
		t.Parallel()
		src, err := OpenOgg(writeOgg(t))
		require.NoError(t, err)
		defer src.Close()

		_, err = src.NextSample()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("not ogg", func(t *testing.T) {
		t.Parallel()
		_, err := OpenOgg(writeIVF(t, "VP80", []byte{1}))
		assert.Error(t, err)
	})
}

func TestCapture(t *testing.T) {
	t.Parallel()

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()
		video, audio, err := UnsupportedCapture(context.Background(), DefaultProfile())
		assert.ErrorIs(t, err, ErrCaptureUnavailable)
		assert.Nil(t, video)
		assert.Nil(t, audio)
	})

	t.Run("file without video", func(t *testing.T) {
		t.Parallel()
		_, _, err := FileCapture("", "")(context.Background(), DefaultProfile())
		assert.ErrorIs(t, err, ErrNoVideo)
	})

	t.Run("file missing", func(t *testing.T) {
		t.Parallel()
		_, _, err := FileCapture(filepath.Join(t.TempDir(), "nope.ivf"), "")(context.Background(), DefaultProfile())
		assert.ErrorIs(t, err, ErrCaptureUnavailable)
	})

	t.Run("file video only", func(t *testing.T) {
		t.Parallel()
		video, audio, err := FileCapture(writeIVF(t, "VP80", []byte{1}), "")(context.Background(), DefaultProfile())
		require.NoError(t, err)
		defer video.Close()
		assert.Nil(t, audio)
	})

	t.Run("bad audio closes video", func(t *testing.T) {
		t.Parallel()
		_, _, err := FileCapture(writeIVF(t, "VP80", []byte{1}), filepath.Join(t.TempDir(), "nope.ogg"))(context.Background(), DefaultProfile())
		assert.ErrorIs(t, err, ErrCaptureUnavailable)
	})

	t.Run("file with audio", func(t *testing.T) {
		t.Parallel()
		video, audio, err := FileCapture(writeIVF(t, "VP80", []byte{1}), writeOgg(t, []byte{7}))(context.Background(), DefaultProfile())
		require.NoError(t, err)
		defer video.Close()
		require.NotNil(t, audio)
		defer audio.Close()

		s, err := audio.NextSample()
		require.NoError(t, err)
		assert.Equal(t, []byte{7}, s.Data)
	})
}
