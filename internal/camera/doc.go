// Package camera 撮影デバイスの抽象化と統合管理を担う
//
// # 責務
// - Webカメラ・テザー接続カメラ・深度センサーの統一インターフェース
// - ハードウェアの列挙とプロファイルの自動紐付け
// - アクティブデバイスの接続・切断・撮影・設定管理
// - 連続プレビューストリームのペーシングとリトライ
// - カメラ設定ツリーの探索と別名解決
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 種類の異なる撮影デバイスを同じ操作で扱いたい
// - 接続されたハードウェアに保存済みプロファイルを自動適用したい
// - 撮影・プレビュー・設定変更を単一のアクティブデバイスに委譲したい
//
// # 仕様
// - Registry: デバイステーブルとアクティブポインタの統合管理
// - Device: 種別ごとの実装（WebcamDevice / TetheredDevice / DepthSensorDevice）
// - Backend: ネイティブツールを隠蔽する差し替え可能な層（Mock実装あり）
// - ConfigNode: カメラ設定ツリーの走査と設定キーの別名解決
// - Thread-safe な操作をサポート
// - エラーは種別ごとのセンチネルエラーでラップされ errors.Is で判別できる
//
// # 前提要件
//   - v4l-utils: Webカメラの検出とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: フレームキャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - gphoto2: テザー接続カメラの制御に使用
//     Ubuntu/Debian: sudo apt install gphoto2
//   - librealsense-tools (rs-enumerate-devices): 深度センサーの検出に使用
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
