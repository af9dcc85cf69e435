package handlers

import (
	"net/http"

	apperrors "github.com/folio-org/mod-data-export/internal/errors"
)

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
}

var versionInfo = VersionInfo{Version: "dev"}

func SetVersionInfo(info VersionInfo) { versionInfo = info }

func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, versionInfo)
}
