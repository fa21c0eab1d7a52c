package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/middleware/requestid"
)

const outcomeOK = "ok"

// operationObserver emits one log line and one metric sample per service call.
type operationObserver struct {
	component string
	logger    *zap.Logger
	metrics   *MetricsService
}

func newOperationObserver(component string, logger *zap.Logger, metrics *MetricsService) operationObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return operationObserver{component: component, logger: logger.With(zap.String("component", component)), metrics: metrics}
}

func (o operationObserver) done(ctx context.Context, operation string, start time.Time, err error, fields ...zap.Field) {
	duration := time.Since(start)
	outcome := outcomeOK
	fields = append(fields,
		zap.String("operation", operation),
		zap.Duration("duration", duration),
	)
	if id := requestid.FromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}

	if err == nil {
		fields = append(fields, zap.String("outcome", outcome))
		o.logger.Info("operation completed", fields...)
		o.metrics.ObserveOperation(o.component, operation, outcome, duration)
		return
	}

	appErr := appErrors.FromError(err)
	outcome = appErr.Code
	fields = append(fields, zap.String("outcome", outcome), zap.Error(err))
	if appErr.Status >= http.StatusInternalServerError {
		o.logger.Error("operation failed", fields...)
	} else {
		o.logger.Warn("operation rejected", fields...)
	}
	o.metrics.ObserveOperation(o.component, operation, outcome, duration)
}
