package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// SampleSource produces encoded media samples. Each sample's Duration tells
// the pump how long to wait before the next one.
type SampleSource interface {
	MimeType() string
	NextSample() (pionmedia.Sample, error)
	Close() error
}

// CaptureFunc starts a screen capture. Video is required; audio may be nil.
type CaptureFunc func(ctx context.Context, profile Profile) (video SampleSource, audio SampleSource, err error)

// UnsupportedCapture is the capture of platforms without screen capture.
func UnsupportedCapture(context.Context, Profile) (SampleSource, SampleSource, error) {
	return nil, nil, ErrCaptureUnavailable
}

// FileCapture replays pre-encoded media as the screen: an IVF file (VP8/VP9)
// for video and an optional Ogg/Opus file for audio. Both loop at EOF.
func FileCapture(videoPath, audioPath string) CaptureFunc {
	return func(ctx context.Context, profile Profile) (SampleSource, SampleSource, error) {
		if videoPath == "" {
			return nil, nil, ErrNoVideo
		}
		video, err := OpenIVF(videoPath, profile.SampleDuration())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		if audioPath == "" {
			return video, nil, nil
		}
		audio, err := OpenOgg(audioPath)
		if err != nil {
			_ = video.Close()
			return nil, nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		return video, audio, nil
	}
}

// IVFSource reads VP8/VP9 frames from an IVF file
type IVFSource struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	mimeType string
	duration time.Duration
}

// OpenIVF opens an IVF file. fallback is the frame duration used when the
// file header carries no usable timebase.
func OpenIVF(path string, fallback time.Duration) (*IVFSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &IVFSource{file: file}
	header, err := s.open()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	codec, ok := codecFromFourCC(header.FourCC)
	if !ok {
		_ = file.Close()
		return nil, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	s.mimeType = codec.MimeType()

	s.duration = fallback
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		s.duration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return s, nil
}

func (s *IVFSource) open() (*ivfreader.IVFFileHeader, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, header, err := ivfreader.NewWith(s.file)
	if err != nil {
		return nil, err
	}
	s.reader = reader
	return header, nil
}

func (s *IVFSource) MimeType() string { return s.mimeType }

func (s *IVFSource) NextSample() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if _, err = s.open(); err != nil {
			return pionmedia.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *IVFSource) Close() error {
	return s.file.Close()
}

var opusTagsSignature = []byte("OpusTags")

// OggSource reads Opus pages from an Ogg file
type OggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

// OpenOgg opens an Ogg/Opus file
func OpenOgg(path string) (*OggSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &OggSource{file: file}
	if err := s.open(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return s, nil
}

func (s *OggSource) open() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	s.lastGranule = 0
	return nil
}

func (s *OggSource) MimeType() string { return webrtc.MimeTypeOpus }

func (s *OggSource) NextSample() (pionmedia.Sample, error) {
	rewound := false
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) && !rewound {
			if err = s.open(); err != nil {
				return pionmedia.Sample{}, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return pionmedia.Sample{}, err
		}
		if bytes.HasPrefix(page, opusTagsSignature) {
			continue
		}

		// Opus granule positions count 48kHz samples
		var samples uint64
		if header.GranulePosition > s.lastGranule {
			samples = header.GranulePosition - s.lastGranule
		}
		s.lastGranule = header.GranulePosition
		return pionmedia.Sample{
			Data:     page,
			Duration: time.Duration(samples) * time.Second / 48000,
		}, nil
	}
}

func (s *OggSource) Close() error {
	return s.file.Close()
}
