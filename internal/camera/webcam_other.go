//go:build !linux

package camera

import "fmt"

// WebcamSource はLinux以外では利用できない
type WebcamSource struct {
	device string
	size   Size
}

// NewWebcamSource は新しいWebcamSourceを作成する
func NewWebcamSource(device string, size Size) *WebcamSource {
	return &WebcamSource{device: device, size: size}
}

func (s *WebcamSource) Open() error {
	return fmt.Errorf("V4L2デバイス %s: %w", s.device, ErrUnsupported)
}

func (s *WebcamSource) Close() error { return nil }

func (s *WebcamSource) Size() Size { return s.size }

func (s *WebcamSource) Capture(_ *Frame) error { return ErrNotOpen }

func queryDeviceFormats(_ string) ([]string, []Resolution, error) {
	return nil, nil, ErrUnsupported
}
