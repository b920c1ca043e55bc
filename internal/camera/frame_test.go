package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"
)

func TestFrame_CopyTo(t *testing.T) {
	src := &Frame{
		Format:    FormatGray,
		Width:     2,
		Height:    2,
		Data:      []byte{1, 2, 3, 4},
		Timestamp: time.Unix(100, 0),
	}

	dst := &Frame{Data: make([]byte, 0, 16)}
	backing := dst.Data[:1]
	src.CopyTo(dst)

	if !bytes.Equal(dst.Data, src.Data) {
		t.Errorf("Expected data %v, got %v", src.Data, dst.Data)
	}
	if dst.Format != FormatGray || dst.Width != 2 || dst.Height != 2 {
		t.Errorf("Unexpected header: %+v", dst)
	}
	if !dst.Timestamp.Equal(src.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", src.Timestamp, dst.Timestamp)
	}
	// 容量が足りていれば同じバッファを使う
	if &backing[0] != &dst.Data[0] {
		t.Error("Expected destination buffer to be reused")
	}

	// コピー後に元を書き換えても影響しない
	src.Data[0] = 99
	if dst.Data[0] != 1 {
		t.Error("Expected copy to be independent of source")
	}

	// nil と自分自身は何もしない
	src.CopyTo(nil)
	src.CopyTo(src)
}

func TestFrame_ResetAndRelease(t *testing.T) {
	f := &Frame{Format: FormatRGBA, Width: 1, Height: 1, Data: []byte{1, 2, 3, 4}, Timestamp: time.Now()}

	f.Reset()
	if !f.IsEmpty() || f.Format != "" || !f.Timestamp.IsZero() {
		t.Errorf("Expected empty frame after Reset, got %+v", f)
	}
	if cap(f.Data) != 4 {
		t.Errorf("Expected buffer capacity to be kept, got %d", cap(f.Data))
	}

	f.Release()
	if f.Data != nil {
		t.Error("Expected buffer to be released")
	}
}

func TestFrame_Image(t *testing.T) {
	var jpegBuf bytes.Buffer
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	if err := jpeg.Encode(&jpegBuf, src, nil); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{name: "RGBA", frame: Frame{Format: FormatRGBA, Width: 2, Height: 2, Data: make([]byte, 16)}},
		{name: "グレースケール", frame: Frame{Format: FormatGray, Width: 2, Height: 2, Data: make([]byte, 4)}},
		{name: "16bit", frame: Frame{Format: FormatGray16, Width: 2, Height: 2, Data: make([]byte, 8)}},
		{name: "YUYV", frame: Frame{Format: FormatYUYV, Width: 2, Height: 2, Data: make([]byte, 8)}},
		{name: "JPEG", frame: Frame{Format: FormatJPEG, Width: 4, Height: 4, Data: jpegBuf.Bytes()}},
		{name: "RGBAデータ不足", frame: Frame{Format: FormatRGBA, Width: 2, Height: 2, Data: make([]byte, 3)}, wantErr: true},
		{name: "YUYV奇数幅", frame: Frame{Format: FormatYUYV, Width: 3, Height: 1, Data: make([]byte, 6)}, wantErr: true},
		{name: "壊れたJPEG", frame: Frame{Format: FormatJPEG, Data: []byte{0xFF}}, wantErr: true},
		{name: "未知の形式", frame: Frame{Format: "bayer", Width: 1, Height: 1, Data: []byte{0}}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := tc.frame.Image()
			if tc.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != tc.frame.Width || b.Dy() != tc.frame.Height {
				t.Errorf("Expected %dx%d image, got %v", tc.frame.Width, tc.frame.Height, b)
			}
		})
	}
}

func TestYUYVToYCbCr(t *testing.T) {
	// Y0=10 U=20 Y1=30 V=40
	img, err := yuyvToYCbCr([]byte{10, 20, 30, 40}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	got0 := img.YCbCrAt(0, 0)
	got1 := img.YCbCrAt(1, 0)
	if got0 != (color.YCbCr{Y: 10, Cb: 20, Cr: 40}) {
		t.Errorf("Unexpected pixel 0: %+v", got0)
	}
	if got1 != (color.YCbCr{Y: 30, Cb: 20, Cr: 40}) {
		t.Errorf("Unexpected pixel 1: %+v", got1)
	}
}

func TestFrame_EncodeJPEG(t *testing.T) {
	src := NewSyntheticSource(Size{Width: 16, Height: 8}, 0)
	if err := src.Open(); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	var f Frame
	if err := src.Capture(&f); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.EncodeJPEG(&buf, 80); err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Encoded data is not JPEG: %v", err)
	}
	if cfg.Width != 16 || cfg.Height != 8 {
		t.Errorf("Expected 16x8, got %dx%d", cfg.Width, cfg.Height)
	}

	// JPEGはそのまま書き出す
	jf := Frame{Format: FormatJPEG, Data: buf.Bytes()}
	var out bytes.Buffer
	if err := jf.EncodeJPEG(&out, 80); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Error("Expected JPEG frame to be written as is")
	}
}
