// Package server は、撮影デバイス操作のHTTP APIを提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// デバイス・プロファイル操作のエンドポイント、
// MJPEGプレビューストリームの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - デバイスの列挙・接続・切断・撮影・設定のAPI提供
//   - プロファイルのCRUDとアクティブ化のAPI提供
//   - MJPEG形式での連続プレビュー配信
//   - ドメインエラーからHTTPステータスへの変換
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - エラーはセンチネルエラーの判別でステータスコードに変換
//   - グレースフルシャットダウンに対応（デバイスハンドルも解放）
//   - 複数クライアントの同時接続をサポート
package server
