package imaging

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// testImage は単色のテスト画像を生成する
func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	return img
}

// TestEncodeDecodeJPEG はJPEGの往復変換をテストする
func TestEncodeDecodeJPEG(t *testing.T) {
	img := testImage(64, 48)

	data, err := EncodeJPEG(img, 90)
	if err != nil {
		t.Fatalf("エンコードに失敗: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("エンコード結果が空です")
	}

	decoded, err := DecodeJPEG(data)
	if err != nil {
		t.Fatalf("デコードに失敗: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 48 {
		t.Errorf("デコード後のサイズが一致しません: %dx%d", bounds.Dx(), bounds.Dy())
	}
}

// TestDecodeInvalidJPEG は不正データのデコードをテストする
func TestDecodeInvalidJPEG(t *testing.T) {
	if _, err := DecodeJPEG([]byte("これはJPEGではない")); err == nil {
		t.Error("不正データでエラーが返されませんでした")
	}
}

// TestResizeKeepAspect はアスペクト比維持の縮小をテストする
func TestResizeKeepAspect(t *testing.T) {
	testCases := []struct {
		name                   string
		srcW, srcH             int
		maxW, maxH             int
		expectedW, expectedH   int
	}{
		{"横長画像を320x240に収める", 1920, 1080, 320, 240, 320, 180},
		{"縦長画像を320x240に収める", 1080, 1920, 320, 240, 135, 240},
		{"枠より小さい画像はそのまま", 160, 120, 320, 240, 160, 120},
		{"正方形画像", 1000, 1000, 320, 240, 240, 240},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ResizeKeepAspect(testImage(tc.srcW, tc.srcH), tc.maxW, tc.maxH)
			bounds := result.Bounds()
			if bounds.Dx() != tc.expectedW || bounds.Dy() != tc.expectedH {
				t.Errorf("サイズが一致しません: %dx%d, 期待値 %dx%d",
					bounds.Dx(), bounds.Dy(), tc.expectedW, tc.expectedH)
			}
		})
	}
}

// TestWriteImage は画像ファイルの書き出しをテストする
func TestWriteImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jpg")

	if err := WriteImage(testImage(100, 100), path, 85); err != nil {
		t.Fatalf("書き出しに失敗: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("書き出されたファイルのStatに失敗: %v", err)
	}
	if info.Size() == 0 {
		t.Error("書き出されたファイルが空です")
	}
}

// TestWriteThumbnail はサムネイル生成をテストする
func TestWriteThumbnail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thumb.jpg")

	data, err := EncodeJPEG(testImage(1280, 720), 90)
	if err != nil {
		t.Fatalf("テスト画像のエンコードに失敗: %v", err)
	}

	if err := WriteThumbnail(data, path, 320, 240, 80); err != nil {
		t.Fatalf("サムネイル生成に失敗: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("サムネイルの読み込みに失敗: %v", err)
	}

	thumb, err := DecodeJPEG(raw)
	if err != nil {
		t.Fatalf("サムネイルのデコードに失敗: %v", err)
	}

	bounds := thumb.Bounds()
	if bounds.Dx() > 320 || bounds.Dy() > 240 {
		t.Errorf("サムネイルが枠を超えています: %dx%d", bounds.Dx(), bounds.Dy())
	}
}
