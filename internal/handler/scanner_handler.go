package handler

import (
	"net/http"

	"github.com/hitoshi/rollcall/internal/handoff"
)

// ScannerHandler は未登録カードの受け渡しスロットを公開するHTTPハンドラー。
type ScannerHandler struct {
	handoff handoff.Handoff
}

// NewScannerHandler はScannerHandlerを生成する。
func NewScannerHandler(h handoff.Handoff) *ScannerHandler {
	return &ScannerHandler{handoff: h}
}

// latestUIDResponse は直近の未登録UID。スロットが空の場合はnull。
type latestUIDResponse struct {
	UID *string `json:"uid"`
}

// Latest は直近にスキャンされた未登録カードのUIDを返す。
// 読み取りはスロットを消費しない。
// GET /scanner/latest
func (h *ScannerHandler) Latest(w http.ResponseWriter, r *http.Request) {
	var resp latestUIDResponse
	if uid, ok := h.handoff.GetLatest(r.Context()); ok {
		resp.UID = &uid
	}
	writeJSON(w, http.StatusOK, resp)
}
