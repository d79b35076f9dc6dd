package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// uploadsTotal — загрузки по результату (created, duplicate, error).
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_uploads_total",
		Help: "Количество загрузок документов по результату.",
	}, []string{"kind", "result"})

	// uploadedBytesTotal — объём загруженных документов.
	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_uploaded_bytes_total",
		Help: "Суммарный размер загруженных документов в байтах.",
	})

	// approvalDecisionsTotal — решения согласующих.
	approvalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_approval_decisions_total",
		Help: "Количество решений согласующих.",
	}, []string{"decision"})

	// auditFailuresTotal — пропущенные записи журнала доступа.
	auditFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_audit_failures_total",
		Help: "Количество неудачных записей журнала доступа.",
	}, []string{"access_type"})
)
