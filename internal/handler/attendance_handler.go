package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/report"
)

// AttendanceServiceInterface は出欠ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	// ListAll は全出欠レコードを新しい順に返す。
	ListAll(ctx context.Context) ([]model.AttendanceRecord, error)
	// ListToday は今日の出欠レコードを新しい順に返す。
	ListToday(ctx context.Context) ([]model.AttendanceRecord, error)
	// Report は条件に一致するレポート行を返す。
	Report(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)
}

// AttendanceHandler は出欠台帳のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
	now     func() time.Time
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface) *AttendanceHandler {
	return &AttendanceHandler{service: service, now: time.Now}
}

// attendanceResponse は出欠レコードのAPIレスポンス。
type attendanceResponse struct {
	ID     string `json:"id"`
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Status string `json:"status"`
}

// reportRowResponse はレポート行のAPIレスポンス。
type reportRowResponse struct {
	Name       string `json:"name"`
	RegNo      string `json:"reg_no"`
	Section    string `json:"section"`
	Department string `json:"department"`
	Year       string `json:"year"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Status     string `json:"status"`
}

// ListAttendance は全出欠履歴を返す。
// GET /attendance
func (h *AttendanceHandler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceResponses(records))
}

// ListToday は今日の出欠レコードを返す。
// GET /attendance/today
func (h *AttendanceHandler) ListToday(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListToday(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceResponses(records))
}

// Report は条件付きの出欠レポートを返す。
// format=csv の場合はCSVファイルとしてダウンロードさせる。
// GET /attendance/report?date=&section=&reg_no=&format=json|csv
func (h *AttendanceHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format != "" && format != "json" && format != "csv" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "未対応の出力形式です: " + format,
			Category: "validation",
			Action:   "formatにはjsonまたはcsvを指定してください。",
		})
		return
	}

	rows, err := h.service.Report(r.Context(), model.ReportFilter{
		Date:    q.Get("date"),
		Section: q.Get("section"),
		RegNo:   q.Get("reg_no"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+report.ExportFileName(h.now())+`"`)
		if err := report.WriteCSV(w, rows); err != nil {
			// ヘッダー送信後のためステータスは変更できない
			slog.Error("failed to write csv report", slog.String("error", err.Error()))
		}
		return
	}

	resp := make([]reportRowResponse, len(rows))
	for i, row := range rows {
		resp[i] = reportRowResponse{
			Name:       row.Name,
			RegNo:      row.RegNo,
			Section:    row.Section,
			Department: row.Department,
			Year:       row.Year,
			Date:       row.Date,
			Time:       row.Time,
			Status:     string(row.Status),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAttendanceResponses(records []model.AttendanceRecord) []attendanceResponse {
	resp := make([]attendanceResponse, len(records))
	for i, rec := range records {
		resp[i] = attendanceResponse{
			ID:     rec.ID,
			UID:    rec.UID,
			Name:   rec.Name,
			Date:   rec.Date,
			Time:   rec.Time,
			Status: string(rec.Status),
		}
	}
	return resp
}
