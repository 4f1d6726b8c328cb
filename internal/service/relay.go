// relay.go — обработчик результатов внешней валидации.
// Received → AuthChecked → Validated → Persisted → Published.
// Любой исход, кроме явного отказа upstream, публикуется в исходящий топик.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/eventbus"
)

// recordCreator — создание записи. Реализуется *FlexService.
type recordCreator interface {
	BuildRecord(meta *model.UploadMetadata, env model.RecordEnvelope) (*model.FlexRecord, error)
	Create(ctx context.Context, rec *model.FlexRecord) (*model.FlexRecordDTO, error)
}

// Relay — потребитель топика результатов валидации.
type Relay struct {
	creator   recordCreator
	auth      Authorizer
	publisher eventbus.Publisher
	topic     string
	logger    *slog.Logger
}

// NewRelay создаёт обработчик. topic — исходящий топик результатов.
func NewRelay(creator recordCreator, auth Authorizer, publisher eventbus.Publisher, topic string, logger *slog.Logger) *Relay {
	return &Relay{
		creator:   creator,
		auth:      auth,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With(slog.String("component", "relay")),
	}
}

// Handle обрабатывает одно сообщение. Ошибка возвращается только если
// сообщение нельзя разобрать или не удалось опубликовать результат:
// такие сообщения уходят в dead-letter.
func (r *Relay) Handle(ctx context.Context, msg eventbus.Message) error {
	var job model.JobMessage
	if err := msg.Decode(&job); err != nil {
		relayMessagesTotal.WithLabelValues("malformed").Inc()
		return err
	}

	logger := r.logger.With(
		slog.String("message_id", msg.MessageID),
		slog.String("record_id", job.TdeiRecordID),
	)

	if !job.Response.Success {
		relayMessagesTotal.WithLabelValues("skipped").Inc()
		logger.Info("Валидация не пройдена, запись не создаётся",
			slog.String("message", job.Response.Message),
		)
		return nil
	}

	dto, err := r.process(ctx, &job)

	job.Stage = model.StageDataService
	outcome := "success"
	if err != nil {
		outcome = "failure"
		job.Response = model.JobResponse{Success: false, Message: err.Error()}
	} else {
		job.Response = model.JobResponse{Success: true, Message: "Запись GTFS-Flex сохранена: " + dto.RecordID}
	}

	out, err := eventbus.NewMessage(model.MessageTypeDataService, job)
	if err != nil {
		relayMessagesTotal.WithLabelValues("publish_error").Inc()
		return err
	}
	if err := r.publisher.Publish(ctx, r.topic, out); err != nil {
		relayMessagesTotal.WithLabelValues("publish_error").Inc()
		logger.Error("Ошибка публикации результата", slog.String("error", err.Error()))
		return fmt.Errorf("публикация результата %s: %w", job.TdeiRecordID, err)
	}

	relayMessagesTotal.WithLabelValues(outcome).Inc()
	logger.Info("Результат опубликован",
		slog.String("stage", job.Stage),
		slog.Bool("success", job.Response.Success),
		slog.String("message", job.Response.Message),
	)
	return nil
}

// process проверяет права, собирает запись и сохраняет её.
// Panic внутри преобразуется в ErrUnknown.
func (r *Relay) process(ctx context.Context, job *model.JobMessage) (dto *model.FlexRecordDTO, err error) {
	defer func() {
		if p := recover(); p != nil {
			dto = nil
			err = fmt.Errorf("%w: %v", ErrUnknown, p)
		}
	}()

	var meta model.UploadMetadata
	if len(job.Request) == 0 {
		return nil, fmt.Errorf("%w: пустой request", ErrInput)
	}
	if err := json.Unmarshal(job.Request, &meta); err != nil {
		return nil, fmt.Errorf("%w: некорректный request: %w", ErrInput, err)
	}

	projectGroupID := meta.ProjectGroupID
	if projectGroupID == "" {
		projectGroupID = job.OrgID
	}
	allowed, err := r.auth.HasPermission(ctx, job.UserID, projectGroupID)
	if err != nil {
		return nil, fmt.Errorf("%w: проверка прав: %w", ErrUnknown, err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: пользователь %s в группе проектов %s", ErrForbidden, job.UserID, projectGroupID)
	}

	rec, err := r.creator.BuildRecord(&meta, model.RecordEnvelope{
		RecordID:       job.TdeiRecordID,
		UploadedBy:     job.UserID,
		FileUploadPath: job.Meta.FileUploadPath,
	})
	if err != nil {
		return nil, err
	}

	dto, err = r.creator.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrOverlap) {
			r.logger.Warn("Повторная доставка или конфликт периода",
				slog.String("record_id", job.TdeiRecordID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	return dto, nil
}
