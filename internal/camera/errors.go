package camera

import "errors"

// エラー分類
// すべてのエラーはこれらのいずれかを%wでラップして返され、
// 呼び出し側はerrors.Isで種別を判定できる
var (
	// ErrNotFound は未知のデバイスIDが指定された場合に返される
	ErrNotFound = errors.New("デバイスが見つかりません")

	// ErrBackendUnavailable は必要なネイティブバックエンドが存在しない場合に返される
	ErrBackendUnavailable = errors.New("バックエンドが利用できません")

	// ErrConnect は接続処理の失敗を表す
	ErrConnect = errors.New("接続に失敗しました")

	// ErrDisconnect は切断処理の失敗を表す
	ErrDisconnect = errors.New("切断に失敗しました")

	// ErrCapture は撮影処理の失敗を表す
	ErrCapture = errors.New("撮影に失敗しました")

	// ErrPreview はプレビューフレーム取得の失敗を表す
	ErrPreview = errors.New("プレビューの取得に失敗しました")

	// ErrSettings は設定適用の失敗を表す
	ErrSettings = errors.New("設定の適用に失敗しました")

	// ErrNotConnected は未接続デバイスへの操作を表す
	ErrNotConnected = errors.New("デバイスが接続されていません")

	// ErrNoActiveDevice はアクティブデバイス未設定時の操作を表す
	ErrNoActiveDevice = errors.New("アクティブなデバイスがありません")
)
