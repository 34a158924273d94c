package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/snapclass/internal/catalog"
	"github.com/Brownie44l1/snapclass/internal/decode"
	"github.com/Brownie44l1/snapclass/internal/predict"
	"github.com/Brownie44l1/snapclass/internal/presentation"
	"github.com/Brownie44l1/snapclass/internal/session"
)

const (
	sessionCookie = "snapclass_session"
	imageField    = "image"
)

type Handler struct {
	log        *slog.Logger
	classifier predict.Classifier
	predictor  *predict.Service
	catalog    *catalog.Catalog
	sessions   *session.Store
	renderer   *presentation.Renderer
	maxUpload  int64
}

func NewHandler(
	log *slog.Logger,
	classifier predict.Classifier,
	predictor *predict.Service,
	cat *catalog.Catalog,
	sessions *session.Store,
	renderer *presentation.Renderer,
	maxUpload int64,
) *Handler {
	return &Handler{
		log:        log,
		classifier: classifier,
		predictor:  predictor,
		catalog:    cat,
		sessions:   sessions,
		renderer:   renderer,
		maxUpload:  maxUpload,
	}
}

// Routes wires every endpoint onto a new mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /select", h.Select)
	mux.HandleFunc("GET /session/image", h.SessionImage)

	mux.HandleFunc("GET /api/labels", enableCORS(h.APILabels))
	mux.HandleFunc("GET /api/content/{label}", enableCORS(h.APIContent))
	mux.HandleFunc("POST /api/predict", enableCORS(h.APIPredict))
	mux.HandleFunc("OPTIONS /api/", enableCORS(func(http.ResponseWriter, *http.Request) {}))

	return logRequests(h.log, mux)
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": h.classifier != nil,
		"labels":       len(h.classifier.Labels()),
	})
}

// Index renders the page with the session's latest prediction, if any.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	state, _ := h.sessions.Get(h.sessionID(w, r))
	h.renderPage(w, http.StatusOK, state, "")
}

// Predict classifies an uploaded image and replaces the session state.
// A bad upload leaves the previous state in place.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(w, r)

	raw, err := h.readUpload(w, r)
	if err != nil {
		h.log.Warn("Rejected upload", "error", err)
		state, _ := h.sessions.Get(id)
		h.renderPage(w, http.StatusBadRequest, state, err.Error())
		return
	}

	result, err := h.classify(r, raw)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Prediction failed"
		if errors.Is(err, decode.ErrImageDecode) {
			status = http.StatusBadRequest
			msg = "Could not read the image. Please try another one."
		}
		h.log.Warn("Prediction failed", "error", err)
		state, _ := h.sessions.Get(id)
		h.renderPage(w, status, state, msg)
		return
	}

	h.sessions.Replace(id, raw, decode.DetectMIME(raw), result)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Select switches the label whose content is shown without predicting again.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(w, r)
	label := r.FormValue("label")

	if _, err := h.sessions.Select(id, label); err != nil {
		state, _ := h.sessions.Get(id)
		h.renderPage(w, http.StatusBadRequest, state, err.Error())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SessionImage serves the raw bytes of the last accepted upload.
func (h *Handler) SessionImage(w http.ResponseWriter, r *http.Request) {
	state, ok := h.sessions.Get(h.sessionID(w, r))
	if !ok || len(state.ImageBytes) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", state.ImageMIME)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(state.ImageBytes)
}

func (h *Handler) APILabels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"labels": h.classifier.Labels()})
}

func (h *Handler) APIContent(w http.ResponseWriter, r *http.Request) {
	view := presentation.RenderContent(r.PathValue("label"), h.catalog)
	writeJSON(w, http.StatusOK, map[string]any{
		"label":      view.Selected,
		"content":    view.Content,
		"videos":     view.Videos,
		"no_content": view.NoContent,
	})
}

// APIPredict is the stateless JSON variant of Predict. An optional "label"
// form field picks the content to return.
func (h *Handler) APIPredict(w http.ResponseWriter, r *http.Request) {
	raw, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.classify(r, raw)
	if err != nil {
		if errors.Is(err, decode.ErrImageDecode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("Prediction error", "error", err)
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	writeJSON(w, http.StatusOK, presentation.Render(result, r.FormValue("label"), h.catalog))
}

func (h *Handler) classify(r *http.Request, raw []byte) (predict.Result, error) {
	img, err := decode.Image(raw)
	if err != nil {
		return predict.Result{}, err
	}
	h.log.Debug("Image decoded", "dimensions", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()))
	return h.predictor.Predict(r.Context(), h.classifier, img)
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("image is larger than %d MB", h.maxUpload>>20)
		}
		return nil, errors.New("failed to parse form")
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return nil, errors.New("no image file provided, use 'image' as the form field name")
	}
	defer file.Close()

	h.log.Debug("Received file", "name", header.Filename, "size", header.Size)

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return raw, nil
}

func (h *Handler) renderPage(w http.ResponseWriter, status int, state session.State, errMsg string) {
	page := presentation.Page{
		Labels:   h.classifier.Labels(),
		HasImage: len(state.ImageBytes) > 0,
		Error:    errMsg,
		Accept:   decode.SupportedMIME,
	}
	if state.Prediction != nil {
		view := presentation.Render(*state.Prediction, state.Selected, h.catalog)
		page.View = &view
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.renderer.Page(w, page); err != nil {
		h.log.Error("Failed to render page", "error", err)
	}
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request has none.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && session.ValidID(c.Value) {
		return c.Value
	}
	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
