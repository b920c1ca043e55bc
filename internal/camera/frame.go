package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"
)

// CopyTo はフレームの内容を dst にコピーする
// dst.Data の容量が足りていれば再確保しない
func (f *Frame) CopyTo(dst *Frame) {
	if dst == nil || dst == f {
		return
	}
	dst.Format = f.Format
	dst.Width = f.Width
	dst.Height = f.Height
	dst.Timestamp = f.Timestamp
	dst.Data = append(dst.Data[:0], f.Data...)
}

// Reset はフレームを空にする（バッファは保持する）
func (f *Frame) Reset() {
	f.Format = ""
	f.Width = 0
	f.Height = 0
	f.Data = f.Data[:0]
	f.Timestamp = time.Time{}
}

// Release はバッファを手放す
func (f *Frame) Release() {
	f.Reset()
	f.Data = nil
}

// IsEmpty はフレームが未取得かどうかを返す
func (f *Frame) IsEmpty() bool {
	return len(f.Data) == 0
}

// Size はフレームの画像サイズを返す
func (f *Frame) Size() Size {
	return Size{Width: f.Width, Height: f.Height}
}

// Image はフレームを image.Image に変換する
// RGBA/グレースケールはデータを共有する
func (f *Frame) Image() (image.Image, error) {
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
		}
		return img, nil
	case FormatRGBA:
		if len(f.Data) < f.Width*f.Height*4 {
			return nil, fmt.Errorf("RGBAデータが不足しています: %d bytes", len(f.Data))
		}
		return &image.RGBA{Pix: f.Data, Stride: f.Width * 4, Rect: rect}, nil
	case FormatGray:
		if len(f.Data) < f.Width*f.Height {
			return nil, fmt.Errorf("グレースケールデータが不足しています: %d bytes", len(f.Data))
		}
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: rect}, nil
	case FormatGray16:
		if len(f.Data) < f.Width*f.Height*2 {
			return nil, fmt.Errorf("16bitデータが不足しています: %d bytes", len(f.Data))
		}
		return &image.Gray16{Pix: f.Data, Stride: f.Width * 2, Rect: rect}, nil
	case FormatYUYV:
		return yuyvToYCbCr(f.Data, f.Width, f.Height)
	default:
		return nil, fmt.Errorf("サポートされていない画素形式: %q", f.Format)
	}
}

// yuyvToYCbCr はパックされたYUYV(Y0 U Y1 V)を4:2:2のプレーンに分ける
func yuyvToYCbCr(data []byte, w, h int) (*image.YCbCr, error) {
	if w%2 != 0 || len(data) < w*h*2 {
		return nil, fmt.Errorf("YUYVデータが不正です: %dx%d, %d bytes", w, h, len(data))
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		src := data[y*w*2 : (y+1)*w*2]
		for x := 0; x < w; x += 2 {
			p := src[x*2 : x*2+4]
			img.Y[y*img.YStride+x] = p[0]
			img.Y[y*img.YStride+x+1] = p[2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = p[1]
			img.Cr[ci] = p[3]
		}
	}
	return img, nil
}

// EncodeJPEG はフレームをJPEGとして書き出す
// 既にJPEGの場合はそのまま書き出す
func (f *Frame) EncodeJPEG(w io.Writer, quality int) error {
	if f.Format == FormatJPEG {
		_, err := w.Write(f.Data)
		return err
	}

	img, err := f.Image()
	if err != nil {
		return err
	}

	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return nil
}
