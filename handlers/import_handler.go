package handlers

import (
	"io"
	"net/http"

	"taskblitz-backend/models"
	"taskblitz-backend/services"
)

// ImportHandler handles bulk CSV task imports
type ImportHandler struct {
	*BaseHandler
	importer *services.ImportService
}

// NewImportHandler creates a new import handler
func NewImportHandler(importer *services.ImportService) *ImportHandler {
	return &ImportHandler{BaseHandler: NewBaseHandler(), importer: importer}
}

// HandleImportCSV imports tasks from an uploaded CSV. Accepts either a
// multipart form with a "file" field or a raw CSV body.
func (h *ImportHandler) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	requesterID := r.URL.Query().Get("requester_id")
	requesterWallet := r.URL.Query().Get("requester_wallet")
	if requesterID == "" || requesterWallet == "" {
		h.sendError(w, http.StatusBadRequest, "requester_id and requester_wallet required")
		return
	}

	var body io.Reader = r.Body
	if err := r.ParseMultipartForm(8 << 20); err == nil {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "multipart form must carry a file field")
			return
		}
		defer file.Close()
		body = file
	}

	result, err := h.importer.ImportCSV(r.Context(), requesterID, requesterWallet, body)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, models.NewSuccessResponseWithMeta(result, map[string]interface{}{
		"created": len(result.Created),
		"failed":  len(result.Errors),
	}))
}
