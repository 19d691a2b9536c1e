package appcontext

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextId int

const (
	jobNameKeyId contextId = iota
	runIdKeyId
	archiveKeyId
	requestIdKeyId
)

func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, requestIdKeyId, requestId)
}

func WithRunId(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, runIdKeyId, id)
}

func WithJobName(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobNameKeyId, job)
}

func WithArchive(ctx context.Context, archive string) context.Context {
	return context.WithValue(ctx, archiveKeyId, archive)
}

func JobNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	name, _ := ctx.Value(jobNameKeyId).(string)
	return name
}

func LoggerFromContext(logger logrus.FieldLogger, ctx context.Context) logrus.FieldLogger {
	if ctx == nil {
		return logger
	}

	result := logger

	if ctxJobName, ok := ctx.Value(jobNameKeyId).(string); ok && ctxJobName != "" {
		result = result.WithField("job", ctxJobName)
	}

	if ctxRunId, ok := ctx.Value(runIdKeyId).(int64); ok && ctxRunId != 0 {
		result = result.WithField("run_id", ctxRunId)
	}

	if ctxArchive, ok := ctx.Value(archiveKeyId).(string); ok && ctxArchive != "" {
		result = result.WithField("archive", ctxArchive)
	}

	if ctxRequestId, ok := ctx.Value(requestIdKeyId).(string); ok && ctxRequestId != "" {
		result = result.WithField("request_id", ctxRequestId)
	}

	return result
}
