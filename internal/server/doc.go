// Package server は共有カメラをHTTPで公開します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラ一覧と統計情報の提供
//   - 静止画（JPEG）とMJPEGストリームの配信
//   - V4L2デバイスの検出結果の提供
//
// 仕様:
//   - ルーティングには gin を使用
//   - リクエストごとに共有ハンドルを作成し、終わったら閉じる
//   - 同時に届いた撮影要求は device パッケージ側で1回の物理キャプチャにまとめられる
//   - 撮影エラーはHTTPステータスに変換する（タイムアウト 504、撮影失敗 502、停止済み 503）
package server
