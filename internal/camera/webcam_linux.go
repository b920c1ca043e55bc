//go:build linux

package camera

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

// V4L2のFourCC
const (
	fourccMJPG webcam.PixelFormat = 0x47504A4D
	fourccYUYV webcam.PixelFormat = 0x56595559
)

// streamDevice はストリーミング中のデバイスに対する操作
// *webcam.Webcam が実装する
type streamDevice interface {
	WaitForFrame(timeout uint32) error
	ReadFrame() ([]byte, error)
	StopStreaming() error
	Close() error
}

// WebcamSource はV4L2デバイスをストリーミングモードで開いて直接フレームを読むSource
type WebcamSource struct {
	device      string
	size        Size
	frameWait   time.Duration
	bufferCount uint32

	// capMu はフレーム待ちからコピーまでの間保持する
	// ReadFrame が返すスライスは StopStreaming で unmap されるため、Close もこれを取る
	capMu sync.Mutex

	mu     sync.Mutex
	cam    streamDevice
	format PixelFormat
}

// NewWebcamSource は新しいWebcamSourceを作成する
func NewWebcamSource(device string, size Size) *WebcamSource {
	if size.Width <= 0 {
		size.Width = 640
	}
	if size.Height <= 0 {
		size.Height = 480
	}
	return &WebcamSource{
		device:      device,
		size:        size,
		frameWait:   5 * time.Second,
		bufferCount: 4,
	}
}

// Open はデバイスを開いてストリーミングを開始する
// MJPEGを優先し、なければYUYVを使う
func (s *WebcamSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam != nil {
		return ErrAlreadyOpen
	}

	cam, err := webcam.Open(s.device)
	if err != nil {
		return fmt.Errorf("デバイスのオープンに失敗 (%s): %w", s.device, err)
	}

	supported := cam.GetSupportedFormats()
	var (
		v4l2Format webcam.PixelFormat
		format     PixelFormat
	)
	switch {
	case supported[fourccMJPG] != "":
		v4l2Format, format = fourccMJPG, FormatJPEG
	case supported[fourccYUYV] != "":
		v4l2Format, format = fourccYUYV, FormatYUYV
	default:
		_ = cam.Close()
		return fmt.Errorf("対応する画素形式がありません (%s)", s.device)
	}

	_, w, h, err := cam.SetImageFormat(v4l2Format, uint32(s.size.Width), uint32(s.size.Height))
	if err != nil {
		_ = cam.Close()
		return fmt.Errorf("画像フォーマットの設定に失敗: %w", err)
	}
	// ドライバが近い解像度に丸めることがある
	s.size = Size{Width: int(w), Height: int(h)}

	if err := cam.SetBufferCount(s.bufferCount); err != nil {
		_ = cam.Close()
		return fmt.Errorf("バッファ数の設定に失敗: %w", err)
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	s.cam = cam
	s.format = format
	return nil
}

// Close はストリーミングを止めてデバイスを閉じる
// 読み出し中のフレームがあればコピーが終わるまで待つ
func (s *WebcamSource) Close() error {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return nil
	}
	cam := s.cam
	s.cam = nil

	return errors.Join(cam.StopStreaming(), cam.Close())
}

// Size は出力画像のサイズを返す
func (s *WebcamSource) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capture は次のフレームが届くまで待ってから読み出す
func (s *WebcamSource) Capture(dst *Frame) error {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	s.mu.Lock()
	cam, format, size := s.cam, s.format, s.size
	s.mu.Unlock()

	if cam == nil {
		return ErrNotOpen
	}

	if err := cam.WaitForFrame(uint32(s.frameWait / time.Second)); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return fmt.Errorf("フレーム待ちがタイムアウト (%s): %w", s.device, err)
		}
		return fmt.Errorf("フレーム待ちに失敗: %w", err)
	}

	data, err := cam.ReadFrame()
	if err != nil {
		return fmt.Errorf("フレームの読み出しに失敗: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("空のフレームを受信 (%s)", s.device)
	}

	dst.Format = format
	dst.Width = size.Width
	dst.Height = size.Height
	dst.Data = append(dst.Data[:0], data...)
	dst.Timestamp = time.Now()
	return nil
}

// queryDeviceFormats はデバイスが対応する画素形式と解像度を問い合わせる
func queryDeviceFormats(device string) ([]string, []Resolution, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = cam.Close()
	}()

	var (
		formats     []string
		resolutions []Resolution
		seen        = make(map[Resolution]bool)
	)
	for f, name := range cam.GetSupportedFormats() {
		formats = append(formats, name)
		for _, fs := range cam.GetSupportedFrameSizes(f) {
			r := Resolution{Width: int(fs.MaxWidth), Height: int(fs.MaxHeight)}
			if r.Width == 0 || seen[r] {
				continue
			}
			seen[r] = true
			resolutions = append(resolutions, r)
		}
	}

	sort.Strings(formats)
	sort.Slice(resolutions, func(i, j int) bool {
		return resolutions[i].Width*resolutions[i].Height < resolutions[j].Width*resolutions[j].Height
	})
	return formats, resolutions, nil
}
