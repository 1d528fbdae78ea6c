// Package handoff は未登録カードのUIDを登録フロントエンドへ受け渡す単一スロットを提供する。
// スロットは最大1件のUIDのみを保持し、後勝ちで上書きされる。
// 読み取りはスロットを消費しない。
package handoff

import "context"

// DefaultKey はRedisバックエンドで使用するデフォルトのキー。
const DefaultKey = "rollcall:scanner:latest_uid"

// Handoff は未登録スキャンの受け渡しスロット。
type Handoff interface {
	// SetLatest はスロットを無条件に上書きする。
	SetLatest(ctx context.Context, uid string) error

	// GetLatest は直近の未登録UIDを返す。スロットが空の場合はokがfalse。
	// 書き込み側を待つことはなく、エラーも返さない。
	GetLatest(ctx context.Context) (uid string, ok bool)

	// Reset はスロットを空にする。スキャナの起動時に呼び出し、
	// 前回の起動で残った未登録UIDを登録フロントエンドに渡さないようにする。
	Reset(ctx context.Context) error
}
