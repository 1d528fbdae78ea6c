package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rollcall/internal/attendance"
	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/middleware"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/student"
	"github.com/hitoshi/rollcall/internal/testutil"
)

// --- テストヘルパー ---

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

type testEnv struct {
	store   *testutil.MemStore
	handoff *handoff.Memory
	router  http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*RouterDeps)) *testEnv {
	t.Helper()
	store := testutil.NewMemStore()
	h := handoff.NewMemory()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		CORSAllowedOrigin: "*",
		RateLimiter:       rl,
		Metrics:           metrics.Nop{},
		HealthChecker:     &mockHealthChecker{},
		StudentService:    student.NewService(store, security.NewFieldSanitizer()),
		AttendanceService: attendance.NewService(store),
		Handoff:           h,
	}
	for _, opt := range opts {
		opt(deps)
	}
	return &testEnv{store: store, handoff: h, router: NewRouter(deps)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
	body := decodeBody[apiErrorResponse](t, w)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message and action should be set: %+v", body)
	}
}

const aliceJSON = `{"uid":"1001","name":"Alice","reg_no":"R001","department":"CSE","year":"2","section":"A"}`

// --- ルート・ヘルスチェック ---

func TestRouter_Root(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody[messageResponse](t, w)
	if body.Message != "RFID Attendance API is running." {
		t.Errorf("message = %q", body.Message)
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		want    int
	}{
		{"DB疎通OK", &mockHealthChecker{}, http.StatusOK},
		{"DB疎通NG", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"チェッカーなし", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *RouterDeps) { d.HealthChecker = tt.checker })
			if w := env.do(t, http.MethodGet, "/health", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)
	env := newTestEnv(t, func(d *RouterDeps) {
		d.Metrics = mc
		d.Gatherer = reg
	})

	env.do(t, http.MethodGet, "/students/9999", "")

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `rollcall_http_status_total{status_code="404"} 1`) {
		t.Errorf("metrics should count the 404 response:\n%s", w.Body.String())
	}
}

// --- 学生レジストリ ---

// 登録した学生を取得・一覧できること
func TestRouter_RegisterStudent_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/students", aliceJSON)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	created := decodeBody[studentResponse](t, w)
	if created.UID != "1001" || created.Image != model.DefaultStudentImage {
		t.Errorf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/students/1001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", w.Code)
	}
	got := decodeBody[studentResponse](t, w)
	if got != created {
		t.Errorf("GET = %+v, want %+v", got, created)
	}

	w = env.do(t, http.MethodGet, "/students", "")
	list := decodeBody[[]studentResponse](t, w)
	if len(list) != 1 || list[0].RegNo != "R001" {
		t.Errorf("list = %+v", list)
	}
}

func TestRouter_RegisterStudent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"不正なJSON", `{"uid":`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"必須項目なし", `{"uid":"1002","name":"Bob"}`, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"登録済みUID", aliceJSON, http.StatusBadRequest, model.ErrCodeStudentAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.AddStudent(model.Student{UID: "1001", Name: "Alice"})

			w := env.do(t, http.MethodPost, "/students", tt.body)
			assertErrorCode(t, w, tt.status, tt.code)
		})
	}
}

// ストレージ障害は500 STORAGE_FAILUREになること
func TestRouter_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.Err = errors.New("connection reset by peer")

	for _, path := range []string{"/students", "/attendance", "/attendance/today"} {
		w := env.do(t, http.MethodGet, path, "")
		assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeStorageFailure)
		if strings.Contains(w.Body.String(), "connection reset") {
			t.Errorf("%s: driver error should not leak to the client", path)
		}
	}

	w := env.do(t, http.MethodPost, "/students", aliceJSON)
	assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeStorageFailure)
}

func TestRouter_GetStudent_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/students/9999", "")
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeStudentNotFound)
}

// 削除で学生と出欠レコードが消え、再削除は404になること
func TestRouter_DeleteStudent_Cascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.AddStudent(model.Student{UID: "1001", Name: "Alice"})
	env.store.AddStudent(model.Student{UID: "1002", Name: "Bob"})
	env.store.RecordPresence(ctx, "1001", time.Now())
	env.store.RecordPresence(ctx, "1002", time.Now())

	w := env.do(t, http.MethodDelete, "/students/1001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if msg := decodeBody[messageResponse](t, w).Message; !strings.Contains(msg, "1001") {
		t.Errorf("message = %q", msg)
	}

	records := env.store.Records()
	if len(records) != 1 || records[0].UID != "1002" {
		t.Errorf("remaining records = %+v", records)
	}

	w = env.do(t, http.MethodDelete, "/students/1001", "")
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeStudentNotFound)
}

// --- 出欠台帳 ---

func TestRouter_Attendance_ListAndToday(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.AddStudent(model.Student{UID: "1001", Name: "Alice"})
	env.store.AddStudent(model.Student{UID: "1002", Name: "Bob"})
	env.store.RecordPresence(ctx, "1001", time.Date(2020, 1, 6, 8, 0, 0, 0, time.Local))
	env.store.RecordPresence(ctx, "1002", time.Now())

	w := env.do(t, http.MethodGet, "/attendance", "")
	all := decodeBody[[]attendanceResponse](t, w)
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if all[0].UID != "1002" || all[1].Date != "2020-01-06" {
		t.Errorf("history should be newest first: %+v", all)
	}
	if all[0].Status != "Present" || all[0].ID == "" {
		t.Errorf("record = %+v", all[0])
	}

	w = env.do(t, http.MethodGet, "/attendance/today", "")
	today := decodeBody[[]attendanceResponse](t, w)
	if len(today) != 1 || today[0].Name != "Bob" {
		t.Errorf("today = %+v", today)
	}
}

// レコードがない場合は空配列を返すこと
func TestRouter_Attendance_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/attendance/today", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func seedReport(env *testEnv) {
	ctx := context.Background()
	env.store.AddStudent(model.Student{UID: "1001", Name: "Alice", RegNo: "R001", Section: "A", Department: "CSE", Year: "2"})
	env.store.AddStudent(model.Student{UID: "1002", Name: "Bob", RegNo: "R002", Section: "B", Department: "ECE", Year: "3"})
	env.store.RecordPresence(ctx, "1001", time.Date(2026, 10, 15, 8, 5, 0, 0, time.Local))
	env.store.MarkAbsent(ctx, "2026-10-15", "08:30:00")
}

func TestRouter_Report_JSONFilter(t *testing.T) {
	env := newTestEnv(t)
	seedReport(env)

	w := env.do(t, http.MethodGet, "/attendance/report?date=2026-10-15&section=B", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rows := decodeBody[[]reportRowResponse](t, w)
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].RegNo != "R002" || rows[0].Status != "Absent" || rows[0].Time != "08:30:00" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestRouter_Report_CSV(t *testing.T) {
	env := newTestEnv(t)
	seedReport(env)

	w := env.do(t, http.MethodGet, "/attendance/report?reg_no=R001&format=csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="attendance_export_`) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	want := "Name,Reg No,Section,Dept,Year,Date,Time,Status\n" +
		"Alice,R001,A,CSE,2,2026-10-15,08:05:00,Present\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestRouter_Report_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/attendance/report?date=2026-13-40", "")
	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidDate)

	w = env.do(t, http.MethodGet, "/attendance/report?format=xml", "")
	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

// CSVのファイル名はハンドラーの時計から生成されること
func TestAttendanceHandler_Report_CSVFileName(t *testing.T) {
	store := testutil.NewMemStore()
	h := NewAttendanceHandler(attendance.NewService(store))
	h.now = func() time.Time { return time.Date(2026, 10, 15, 9, 7, 3, 0, time.Local) }

	w := httptest.NewRecorder()
	h.Report(w, httptest.NewRequest(http.MethodGet, "/attendance/report?format=csv", nil))

	want := `attachment; filename="attendance_export_20261015_090703.csv"`
	if got := w.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
}

// --- スキャナー連携 ---

// スロットが空ならnull、書き込み後は直近のUIDを返し、読み取りで消費されないこと
func TestRouter_ScannerLatest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/scanner/latest", "")
	if got := strings.TrimSpace(w.Body.String()); got != `{"uid":null}` {
		t.Errorf("empty slot body = %q", got)
	}

	env.handoff.SetLatest(context.Background(), "5555")
	env.handoff.SetLatest(context.Background(), "7777")

	for i := 0; i < 2; i++ {
		w = env.do(t, http.MethodGet, "/scanner/latest", "")
		if got := strings.TrimSpace(w.Body.String()); got != `{"uid":"7777"}` {
			t.Errorf("read %d body = %q", i, got)
		}
	}
}

// --- レート制限 ---

// 学生登録には専用のレート制限が適用されること
func TestRouter_RegistrationRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(120, 1))
	t.Cleanup(rl.Stop)
	env := newTestEnv(t, func(d *RouterDeps) { d.RateLimiter = rl })

	if w := env.do(t, http.MethodPost, "/students", aliceJSON); w.Code != http.StatusOK {
		t.Fatalf("first POST status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/students", `{"uid":"1002","name":"Bob","reg_no":"R002","department":"ECE","year":"3","section":"B"}`)
	assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimitExceeded)

	// 参照系は引き続き利用できる
	if w := env.do(t, http.MethodGet, "/students", ""); w.Code != http.StatusOK {
		t.Errorf("GET after registration limit status = %d", w.Code)
	}
}

// CORSヘッダーが全ルートに付与されること
func TestRouter_CORS(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodOptions, "/students", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeStudentNotFound, http.StatusNotFound},
		{model.ErrCodeStudentAlreadyExists, http.StatusBadRequest},
		{model.ErrCodeInvalidRequest, http.StatusBadRequest},
		{model.ErrCodeValidationFailed, http.StatusBadRequest},
		{model.ErrCodeInvalidDate, http.StatusBadRequest},
		{model.ErrCodeAttendanceRecorded, http.StatusBadRequest},
		{model.ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{model.ErrCodeStorageFailure, http.StatusInternalServerError},
		{model.ErrCodeInternalError, http.StatusInternalServerError},
		{"UNKNOWN", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
