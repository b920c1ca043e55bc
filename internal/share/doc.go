// Package share は1台の物理カメラを複数の利用者で共有する仕組みを提供する
//
// # 責務
// - 同時に来たキャプチャ要求を1回の物理キャプチャにまとめる
// - 利用者ごとのOpen/Closeを数えて、物理デバイスの開閉を1回にまとめる
// - 終了時に全ての利用者を閉じ、デバイスを安全に解放する
//
// # 仕様
//   - Factory: 1つの camera.Source に対して1つ作る
//   - Handle: Factory.CreateHandle で作る利用者ごとの窓口。状態は識別子のみ
//   - PairedFactory: camera.PairSource 用。1回の撮影で2フレームを同時に配る
//   - 物理キャプチャは Factory ごとに同時に1つまで
//   - キャプチャ完了から CaptureInterval の間は同じフレームを再利用する
//   - 実行中のキャプチャを待つ時間は max(CaptureInterval, MaxCaptureWait)
//     MaxCaptureWait が0の場合は無期限に待つ
//   - 物理キャプチャの失敗はその時点で待っている全員に同じエラーとして届く
//
// # エラー
//   - ErrTimeout: 実行中のキャプチャを待ちきれなかった
//   - ErrCapture: 物理キャプチャの失敗（*CaptureError で元のエラーを保持）
//   - ErrInterrupted: context のキャンセルで待ちを中断した
//   - ErrDestroyed: 破棄済みの Factory に対する操作
//   - ErrOpen: 最初の利用者のOpenでデバイスを開けなかった
package share
