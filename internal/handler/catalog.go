package handler

import (
	"net/http"

	"github.com/dukerupert/kidquest/internal/catalog"
)

// Themes handles GET /api/themes
func Themes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Themes())
}

// Theme handles GET /api/themes/{id}
func Theme(w http.ResponseWriter, r *http.Request) {
	theme, ok := catalog.FindTheme(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "theme not found"})
		return
	}
	writeJSON(w, http.StatusOK, theme)
}
