// metrics.go — Prometheus-метрики загрузок, событий и создания записей.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_uploads_total",
		Help: "Общее количество загрузок датасетов (по статусу).",
	}, []string{"status"})

	relayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_relay_messages_total",
		Help: "Общее количество обработанных результатов валидации (по исходу).",
	}, []string{"outcome"})

	recordsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flex_records_created_total",
		Help: "Общее количество созданных записей GTFS-Flex.",
	})
)
