package model

import "encoding/json"

// Типы сообщений шины событий.
const (
	// MessageTypeUpload — анонс загрузки файла (исходящий).
	MessageTypeUpload = "gtfs-flex-upload"
	// MessageTypeDataService — результат сохранения записи (исходящий).
	MessageTypeDataService = "gtfs-flex-data-service"
	// StageDataService — идентификатор этапа flex-datasvc в исходящих сообщениях.
	StageDataService = "flex-data-service"
)

// JobResponse — итог этапа обработки.
type JobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// JobMeta — пути к файлам в blob-хранилище.
type JobMeta struct {
	FileUploadPath string `json:"file_upload_path"`
	MetaFilePath   string `json:"meta_file_path,omitempty"`
	IsValid        *bool  `json:"isValid,omitempty"`
}

// JobMessage — полезная нагрузка сообщений о загрузке, валидации и сохранении.
// Request хранится как RawMessage: некорректный payload не должен мешать
// прочитать конверт и опубликовать результат с tdeiRecordId.
type JobMessage struct {
	Request      json.RawMessage `json:"request,omitempty"`
	UserID       string          `json:"userId"`
	OrgID        string          `json:"orgId,omitempty"`
	TdeiRecordID string          `json:"tdeiRecordId"`
	Stage        string          `json:"stage,omitempty"`
	Meta         JobMeta         `json:"meta"`
	Response     JobResponse     `json:"response"`
}
