package http

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/agentia/replyflow/internal/service"
	"github.com/go-chi/chi/v5"
)

// --- auth ---

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.Login(req.Username, req.Password, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, res)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.Register(req.Username, req.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 {
		token = token[7:]
	}
	h.app.Logout(token)
	writeOK(w, nil)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.ChangePassword(username(r), req.OldPassword, req.NewPassword); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, nil)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		NewPassword string `json:"newPassword"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.ResetPassword(req.Username, req.Email, req.NewPassword); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, nil)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		NewUsername string `json:"newUsername"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Rename(username(r), req.NewUsername); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, nil)
}

// --- monitor & processing ---

func (h *Handler) startMonitor(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.StartMonitor(username(r)))
}

func (h *Handler) stopMonitor(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.StopMonitor(username(r)))
}

func (h *Handler) toggleAutoProcess(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Enabled bool `json:"enabled"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.simple(w, h.app.ToggleAutoProcess(username(r), req.Enabled))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	count, err := h.app.Refresh(r.Context(), username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, map[string]int{"new": count})
}

func (h *Handler) emails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.app.Emails(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, emails)
}

func (h *Handler) processOne(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.ProcessOne(username(r), chi.URLParam(r, "id")))
}

func (h *Handler) processAll(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.ProcessAll(username(r)))
}

func (h *Handler) stopOne(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.StopOne(username(r), chi.URLParam(r, "id")))
}

func (h *Handler) stopAll(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.StopAll(username(r)))
}

func (h *Handler) sendReply(w http.ResponseWriter, r *http.Request) {
	req, _ := decode[struct {
		Reply string `json:"reply"`
	}](r)
	h.simple(w, h.app.SendReply(r.Context(), username(r), chi.URLParam(r, "id"), req.Reply))
}

func (h *Handler) updateReply(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Reply string `json:"reply"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.simple(w, h.app.UpdateReply(username(r), chi.URLParam(r, "id"), req.Reply))
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.MarkRead(r.Context(), username(r), chi.URLParam(r, "id")))
}

func (h *Handler) retryRAG(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Queries []string `json:"queries"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.simple(w, h.app.RetryRAG(username(r), chi.URLParam(r, "id"), req.Queries))
}

func (h *Handler) deleteEmail(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.DeleteEmail(username(r), chi.URLParam(r, "id")))
}

func (h *Handler) summariseText(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Text string `json:"text"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := h.app.SummariseText(r.Context(), username(r), req.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, map[string]string{"summary": summary})
}

// --- knowledge base ---

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.app.ListDocuments()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, docs)
}

func (h *Handler) previewDocument(w http.ResponseWriter, r *http.Request) {
	preview, err := h.app.PreviewDocument(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeOK(w, map[string]string{"preview": preview})
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	content, err := h.app.PreviewDocument(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	_, _ = w.Write([]byte(content))
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.DeleteDocument(chi.URLParam(r, "name")))
}

func (h *Handler) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	req, _ := decode[struct {
		File string `json:"file"`
	}](r)
	result, err := h.app.RebuildIndex(r.Context(), username(r), req.File)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, result)
}

// --- diagnostics ---

func (h *Handler) testRAG(w http.ResponseWriter, r *http.Request) {
	req, err := decode[struct {
		Question string `json:"question"`
	}](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	answer, err := h.app.TestRAG(r.Context(), username(r), req.Question)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, map[string]string{"answer": answer})
}

func (h *Handler) testMailbox(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.TestMailbox(r.Context(), username(r)))
}

func (h *Handler) testAI(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.TestAI(r.Context(), username(r)))
}

// --- settings ---

func (h *Handler) settings(w http.ResponseWriter, r *http.Request) {
	user, err := h.app.Settings(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	// Credential material stays server-side.
	writeOK(w, map[string]any{
		"email":        user.Email,
		"settings":     user.Settings,
		"customModels": user.CustomModels,
		"devices":      user.Devices,
	})
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	req, err := decode[service.SettingsUpdate](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.simple(w, h.app.SaveSettings(username(r), req))
}

// --- stats, activities, history ---

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	acts, err := h.app.Activities(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, acts)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Stats(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, stats)
}

func (h *Handler) categoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.CategoryStats(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, stats)
}

func (h *Handler) trend(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	points, err := h.app.Trend(username(r), days)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, points)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.History(username(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, records)
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.app.ClearHistory(username(r)))
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"history.csv\"")
	// UTF-8 BOM so spreadsheet apps pick the right encoding.
	_, _ = w.Write([]byte{0xEF, 0xBB, 0xBF})
	if err := h.app.ExportHistoryCSV(username(r), csv.NewWriter(w)); err != nil {
		h.logger.Warn("history export failed", "error", err)
	}
}

func (h *Handler) simple(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w, nil)
}
