// versions.go — GET /api/v1/gtfsflex/versions/info.
// Поддерживаемые версии схемы GTFS-Flex читаются из встроенного YAML.
package handlers

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

//go:embed versions.yaml
var versionsYAML []byte

// VersionSpec — описание одной версии схемы.
type VersionSpec struct {
	Version       string `yaml:"version" json:"version"`
	Documentation string `yaml:"documentation" json:"documentation"`
	Specification string `yaml:"specification" json:"specification"`
}

// VersionsInfo — ответ versions/info.
type VersionsInfo struct {
	Versions []VersionSpec `yaml:"versions" json:"versions"`
}

// LoadVersions разбирает встроенный дескриптор версий.
func LoadVersions() (*VersionsInfo, error) {
	return parseVersions(versionsYAML)
}

func parseVersions(data []byte) (*VersionsInfo, error) {
	var info VersionsInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("разбор дескриптора версий: %w", err)
	}
	if len(info.Versions) == 0 {
		return nil, errors.New("дескриптор версий пуст")
	}
	return &info, nil
}

// GetVersionsInfo — публичный endpoint без аутентификации.
func (h *APIHandler) GetVersionsInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.versions)
}
