// Package device は設定されたカメラの共有ファクトリを一括で管理する
//
// # 責務
// - 設定からソースを作成し、カメラごとに share.Factory を1つ用意する
// - 利用者（HTTPハンドラ、定期撮影など）にハンドルを払い出す
// - 終了時に全てのファクトリを並行して破棄する
//
// # 仕様
// - 単体カメラはID、ペアの各ストリームは "<ペアID>.first" / "<ペアID>.second" で参照する
// - ハンドルは利用者ごとに NewHandle で作り、使い終わったら Close する
// - V4L2デバイスの検出結果を一覧として返す
package device
