// Package security はアプリケーションのセキュリティ機能を提供する。
//
// FieldSanitizer は学生登録時の入力値からHTMLタグを除去する。
// 登録フロントエンドが値をそのまま表示してもスクリプトが実行されないよう、
// 保存前に全てのタグを取り除く。エスケープされたタグも展開してから取り除く。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// FieldSanitizer はプレーンテキストの入力値をサニタイズする。
type FieldSanitizer struct {
	policy *bluemonday.Policy
}

// NewFieldSanitizer は全てのタグを除去するポリシーでFieldSanitizerを生成する。
func NewFieldSanitizer() *FieldSanitizer {
	return &FieldSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は多重にエスケープされた入力を展開する回数の上限。
const maxSanitizePasses = 8

// angleBrackets は展開後に残った山括弧を取り除く。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize はタグを除去し、前後の空白を取り除いた文字列を返す。
// 文字実体参照を元の文字に戻した結果がタグになる場合に備え、
// 除去と展開を値が変化しなくなるまで繰り返す。上限までに収束しない入力は空文字列にする。
// 同一入力に対して常に同一出力を返し、出力を再度渡しても変化しない。
func (s *FieldSanitizer) Sanitize(raw string) string {
	current := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(current))
		if next == current {
			return strings.TrimSpace(angleBrackets.Replace(current))
		}
		current = next
	}
	return ""
}
