// Package model はドメインモデルを定義する。
package model

// DefaultStudentImage は画像未指定の学生に設定される画像参照。
const DefaultStudentImage = "default.jpg"

// Student はRFIDカードに紐付けられた登録済み学生を表す。
// UIDはカードから読み取った識別子で、主キーとして扱う。
type Student struct {
	UID        string
	Name       string
	RegNo      string
	Department string
	Year       string
	Section    string
	Image      string
}
