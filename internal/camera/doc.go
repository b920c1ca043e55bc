// Package camera フレーム供給元（Source）の実装と検出を担う
//
// # 責務
// - 物理デバイスを Source / PairSource として抽象化する
// - 設定からソースを作成するレジストリの提供
// - V4L2デバイスの検出と詳細情報の取得
//
// # 仕様
// - Source: Open / Close / Capture / Size の4操作のみを持つ
// - Frame: 呼び出し側が所有するバッファ。Capture は Data を上書きする
// - WebcamSource: V4L2をストリーミングで直接読む（Linuxのみ）
// - FFmpegSource: ffmpegを1フレームごとに起動してJPEGを得る
// - ScreenSource: 画面キャプチャ
// - X11GrabSource: ffmpegのx11grabでX11ディスプレイを撮影する
// - SyntheticSource: 実機なしで動くテストパターン
// - CompositePair: 2つのSourceを同期撮影するPairSourceにまとめる
// - 共有の制御はしない。複数の利用者から使う場合は share パッケージを通す
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: ffmpeg / x11grab ソースを使う場合のみ必要
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
