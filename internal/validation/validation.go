// Пакет validation — проверка метаданных загрузки и записей перед сохранением.
// Проверки заданы явными списками (поле, предикат, сообщение) и выполняются
// все подряд: результат — полный упорядоченный список нарушений.
package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/geo"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// Violation — нарушение ограничения одного поля.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String возвращает нарушение в виде "поле: причина".
func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Join объединяет нарушения в одно сообщение для HTTP-ответа или события.
func Join(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// rule — одна проверка. Предикат задаётся либо тегом validator/v10 над value,
// либо функцией ok.
type rule struct {
	field   string
	value   any
	tag     string
	ok      func() bool
	message string
}

// Validator выполняет списки проверок.
type Validator struct {
	v *validator.Validate
}

// New создаёт Validator с зарегистрированными доменными предикатами.
func New() *Validator {
	v := validator.New()
	// Ошибка возможна только при пустом имени тега или nil-функции.
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := model.ParseISODate(fl.Field().String())
		return err == nil
	})
	return &Validator{v: v}
}

var (
	collectionMethodTag = "omitempty,oneof=" + strings.Join(model.CollectionMethods, " ")
	dataSourceTag       = "omitempty,oneof=" + strings.Join(model.DataSources, " ")
	collectionMethodMsg = "допустимые значения: " + strings.Join(model.CollectionMethods, ", ")
	dataSourceMsg       = "допустимые значения: " + strings.Join(model.DataSources, ", ")
)

const (
	msgRequired = "обязательное поле"
	msgISODate  = "ожидается дата в формате ISO-8601"
	msgWindow   = "valid_from не может быть позже valid_to"
)

// Metadata проверяет метаданные загрузки.
func (val *Validator) Metadata(m *model.UploadMetadata) []Violation {
	rules := []rule{
		{field: "tdei_project_group_id", value: m.ProjectGroupID, tag: "required", message: msgRequired},
		{field: "tdei_service_id", value: m.ServiceID, tag: "required", message: msgRequired},
		{field: "collected_by", value: m.CollectedBy, tag: "required", message: msgRequired},
		{field: "collection_method", value: m.CollectionMethod, tag: "required", message: msgRequired},
		{field: "collection_method", value: m.CollectionMethod, tag: collectionMethodTag, message: collectionMethodMsg},
		{field: "data_source", value: m.DataSource, tag: "required", message: msgRequired},
		{field: "data_source", value: m.DataSource, tag: dataSourceTag, message: dataSourceMsg},
		{field: "collection_date", value: m.CollectionDate, tag: "required", message: msgRequired},
		{field: "collection_date", value: m.CollectionDate, tag: "omitempty,iso8601", message: msgISODate},
		{field: "valid_from", value: m.ValidFrom, tag: "required", message: msgRequired},
		{field: "valid_from", value: m.ValidFrom, tag: "omitempty,iso8601", message: msgISODate},
		{field: "valid_to", value: m.ValidTo, tag: "required", message: msgRequired},
		{field: "valid_to", value: m.ValidTo, tag: "omitempty,iso8601", message: msgISODate},
		{field: "valid_to", ok: func() bool { return windowOrdered(m.ValidFrom, m.ValidTo) }, message: msgWindow},
	}

	violations := val.run(rules)

	if m.HasPolygon() {
		if _, err := geo.ParseFeatureCollection(m.Polygon); err != nil {
			violations = append(violations, Violation{Field: "polygon", Message: err.Error()})
		}
	}

	return violations
}

// Record проверяет запись перед сохранением: помимо полей метаданных
// обязательны идентификатор, автор загрузки и путь к файлу.
func (val *Validator) Record(r *model.FlexRecord) []Violation {
	rules := []rule{
		{field: "tdei_record_id", value: r.RecordID, tag: "required", message: msgRequired},
		{field: "tdei_project_group_id", value: r.ProjectGroupID, tag: "required", message: msgRequired},
		{field: "tdei_service_id", value: r.ServiceID, tag: "required", message: msgRequired},
		{field: "uploaded_by", value: r.UploadedBy, tag: "required", message: msgRequired},
		{field: "file_upload_path", value: r.FileUploadPath, tag: "required", message: msgRequired},
		{field: "collected_by", value: r.CollectedBy, tag: "required", message: msgRequired},
		{field: "collection_method", value: r.CollectionMethod, tag: "required", message: msgRequired},
		{field: "collection_method", value: r.CollectionMethod, tag: collectionMethodTag, message: collectionMethodMsg},
		{field: "data_source", value: r.DataSource, tag: "required", message: msgRequired},
		{field: "data_source", value: r.DataSource, tag: dataSourceTag, message: dataSourceMsg},
		{field: "collection_date", ok: func() bool { return !r.CollectionDate.IsZero() }, message: msgRequired},
		{field: "valid_from", ok: func() bool { return !r.ValidFrom.IsZero() }, message: msgRequired},
		{field: "valid_to", ok: func() bool { return !r.ValidTo.IsZero() }, message: msgRequired},
		{field: "valid_to", ok: func() bool { return !r.ValidFrom.After(r.ValidTo) }, message: msgWindow},
	}

	violations := val.run(rules)

	if len(r.Polygon) > 0 {
		if err := geo.ValidateRing(r.Polygon); err != nil {
			violations = append(violations, Violation{Field: "polygon", Message: err.Error()})
		}
	}

	return violations
}

// run выполняет все правила без short-circuit.
func (val *Validator) run(rules []rule) []Violation {
	var violations []Violation
	for _, r := range rules {
		passed := true
		if r.ok != nil {
			passed = r.ok()
		} else if err := val.v.Var(r.value, r.tag); err != nil {
			passed = false
		}
		if !passed {
			violations = append(violations, Violation{Field: r.field, Message: r.message})
		}
	}
	return violations
}

// windowOrdered сообщает false только если обе границы разобраны
// и valid_from позже valid_to. Ошибки формата отражают другие правила.
func windowOrdered(from, to string) bool {
	f, err := model.ParseISODate(from)
	if err != nil {
		return true
	}
	t, err := model.ParseISODate(to)
	if err != nil {
		return true
	}
	return !f.After(t)
}
