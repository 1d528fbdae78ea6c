package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/student"
)

// StudentServiceInterface は学生ハンドラーが必要とするサービスインターフェース。
type StudentServiceInterface interface {
	// List は全学生を返す。
	List(ctx context.Context) ([]*model.Student, error)
	// Get は指定UIDの学生を返す。
	Get(ctx context.Context, uid string) (*model.Student, error)
	// Register は学生を登録する。
	Register(ctx context.Context, input student.RegisterInput) (*model.Student, error)
	// Delete は学生とその出欠レコードを削除する。
	Delete(ctx context.Context, uid string) error
}

// StudentHandler は学生レジストリのHTTPハンドラー。
type StudentHandler struct {
	service StudentServiceInterface
}

// NewStudentHandler はStudentHandlerを生成する。
func NewStudentHandler(service StudentServiceInterface) *StudentHandler {
	return &StudentHandler{service: service}
}

// studentResponse は学生情報のAPIレスポンス。
type studentResponse struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	RegNo      string `json:"reg_no"`
	Department string `json:"department"`
	Year       string `json:"year"`
	Section    string `json:"section"`
	Image      string `json:"image"`
}

// ListStudents は全学生を返す。
// GET /students
func (h *StudentHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]studentResponse, len(students))
	for i, s := range students {
		resp[i] = toStudentResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStudent は指定UIDの学生を返す。
// GET /students/{uid}
func (h *StudentHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentResponse(st))
}

// RegisterStudent は学生を登録する。
// POST /students
func (h *StudentHandler) RegisterStudent(w http.ResponseWriter, r *http.Request) {
	var input student.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	st, err := h.service.Register(r.Context(), input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentResponse(st))
}

// DeleteStudent は学生とその出欠レコードを削除する。
// DELETE /students/{uid}
func (h *StudentHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.service.Delete(r.Context(), uid); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Student deleted: " + uid})
}

func toStudentResponse(s *model.Student) studentResponse {
	return studentResponse{
		UID:        s.UID,
		Name:       s.Name,
		RegNo:      s.RegNo,
		Department: s.Department,
		Year:       s.Year,
		Section:    s.Section,
		Image:      s.Image,
	}
}
