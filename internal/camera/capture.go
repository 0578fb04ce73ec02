package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"satsuei/internal/imaging"
	"satsuei/internal/storage"
)

// thumbnailQuality はサムネイルJPEGの品質
const thumbnailQuality = 80

// CaptureDefaults は撮影出力の既定値
// レジストリが全デバイスに同じ値を渡す
type CaptureDefaults struct {
	PhotosDir       string
	ThumbnailWidth  int
	ThumbnailHeight int
}

// captureFilename はタイムスタンプベースの撮影ファイル名を生成する
func captureFilename(now time.Time) string {
	return fmt.Sprintf("capture_%s_%03d.jpg", now.Format("20060102_150405"), now.Nanosecond()/1e6)
}

// resolveCaptureDir は撮影の保存先ディレクトリを決定して存在を保証する
func resolveCaptureDir(opts CaptureOptions, defaults CaptureDefaults) (string, error) {
	dir := opts.Dir
	if dir == "" {
		dir = defaults.PhotosDir
	}
	if err := storage.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// writeCaptureResult は撮影データをファイルに書き出し、必要ならサムネイルを生成する
func writeCaptureResult(data []byte, opts CaptureOptions, defaults CaptureDefaults) (*CaptureResult, error) {
	dir, err := resolveCaptureDir(opts, defaults)
	if err != nil {
		return nil, err
	}

	filename := captureFilename(time.Now())
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("撮影ファイルの書き込みに失敗: %w", err)
	}

	result := &CaptureResult{
		FilePath: path,
		Filename: filename,
	}

	if opts.Thumbnail {
		thumbPath := filepath.Join(dir, "thumb_"+filename)
		if err := imaging.WriteThumbnail(data, thumbPath,
			defaults.ThumbnailWidth, defaults.ThumbnailHeight, thumbnailQuality); err != nil {
			// サムネイル生成の失敗は撮影自体を失敗させない
			return result, nil
		}
		result.ThumbnailPath = thumbPath
	}

	return result, nil
}

// thumbnailForFile は既存の撮影ファイルからサムネイルを生成する
// PTPカメラのようにバックエンドが直接ファイルに書く経路で使う
func thumbnailForFile(path string, defaults CaptureDefaults) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	thumbPath := filepath.Join(filepath.Dir(path), "thumb_"+filepath.Base(path))
	if err := imaging.WriteThumbnail(data, thumbPath,
		defaults.ThumbnailWidth, defaults.ThumbnailHeight, thumbnailQuality); err != nil {
		return ""
	}

	return thumbPath
}
