// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はタスクやプロフィールのプレーンテキスト入力からHTMLタグを除去する。
// 保存する値はプレーンテキストとして扱い、マークアップは一切保持しない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はテキスト入力のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// script、styleタグは内容ごと除去する。
	// 文字参照はデコードして返すため、"Tom & Jerry" はそのまま保存される。
	//
	// 変換は可逆ではない。
	// "a<b and c>d" のようにタグとして解釈できる部分は、プレーンテキストのつもりでも除去され "ad" になる。
	// "&lt;b&gt;x&lt;/b&gt;" のような文字参照はデコードされ、"<b>x</b>" という文字列として保存される。
	// 保存値はプレーンテキストとして扱い、出力側でHTMLとして解釈しないこと。
	Sanitize(input string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーは並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去する。
func (s *textSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	if !strings.ContainsAny(input, "<>&") {
		return strings.TrimSpace(input)
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
}
