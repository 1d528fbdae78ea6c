package model

import "time"

// 日付と時刻の文字列表現。ledgerにはホストのローカルタイムゾーンで記録する。
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// AttendanceStatus は出欠ステータスを表す。
type AttendanceStatus string

const (
	// AttendanceStatusPresent はスキャンによる出席を表す。
	AttendanceStatusPresent AttendanceStatus = "Present"
	// AttendanceStatusAbsent は欠席スイープによる欠席を表す。
	AttendanceStatusAbsent AttendanceStatus = "Absent"
)

// AttendanceRecord は出欠台帳の1行を表す。
// Nameは書き込み時点の学生名のコピー。
// (UID, Date) の組はストレージ側のユニーク制約で1件に制限される。
type AttendanceRecord struct {
	ID     string
	UID    string
	Name   string
	Date   string
	Time   string
	Status AttendanceStatus
}

// NewAttendanceRecord は時刻tから日付と時刻を切り出して出欠レコードを生成する。
// 日付と時刻を同じ時刻読み取りから求めることで、日付をまたぐ瞬間の不整合を防ぐ。
func NewAttendanceRecord(id, uid, name string, t time.Time, status AttendanceStatus) AttendanceRecord {
	return AttendanceRecord{
		ID:     id,
		UID:    uid,
		Name:   name,
		Date:   t.Format(DateLayout),
		Time:   t.Format(TimeLayout),
		Status: status,
	}
}

// ReportRow は学生情報と出欠レコードを結合したレポート行。
// 列順はCSVエクスポートとコンソール表示で共通。
type ReportRow struct {
	Name       string
	RegNo      string
	Section    string
	Department string
	Year       string
	Date       string
	Time       string
	Status     AttendanceStatus
}

// ReportFilter はレポート抽出条件。空文字列のフィールドは全件に一致する。
type ReportFilter struct {
	Date    string
	Section string
	RegNo   string
}
