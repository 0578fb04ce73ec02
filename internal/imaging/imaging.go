// Package imaging は画像処理の共通機能を担う
//
// # 責務
// - JPEGのエンコード・デコード
// - アスペクト比を維持した縮小
// - 画像ファイルの書き出しとサムネイル生成
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"
)

// EncodeJPEG は画像を指定品質のJPEGバイト列にエンコードする
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJPEG はJPEGバイト列を画像にデコードする
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// ResizeKeepAspect はアスペクト比を維持したまま指定の枠に収まるよう縮小する
// 元画像が枠より小さい場合はそのまま返す
func ResizeKeepAspect(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w <= maxW && h <= maxH {
		return img
	}

	// 長辺基準で縮小率を決定
	ratioW := float64(maxW) / float64(w)
	ratioH := float64(maxH) / float64(h)
	ratio := ratioW
	if ratioH < ratio {
		ratio = ratioH
	}

	dstW := int(float64(w) * ratio)
	dstH := int(float64(h) * ratio)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// WriteImage は画像を指定品質のJPEGとしてファイルに書き出す
func WriteImage(img image.Image, path string, quality int) error {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("画像ファイルの書き込みに失敗 %s: %w", path, err)
	}

	return nil
}

// WriteThumbnail はJPEGバイト列からサムネイルを生成して書き出す
func WriteThumbnail(data []byte, path string, maxW, maxH, quality int) error {
	img, err := DecodeJPEG(data)
	if err != nil {
		return err
	}

	thumb := ResizeKeepAspect(img, maxW, maxH)
	return WriteImage(thumb, path, quality)
}
