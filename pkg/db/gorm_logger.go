package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// gormLogger routes gorm's query log into the service logger. Only failed
// and slow statements are written; record-not-found is a normal outcome.
type gormLogger struct {
	logg      *logger.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

func newGormLogger(logg *logger.Logger, slowQuery time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	return &gormLogger{logg: logg, level: gormlogger.Warn, slowQuery: slowQuery}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.logg.Log(ctx, zerolog.InfoLevel, fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.logg.Log(ctx, zerolog.WarnLevel, fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.logg.Log(ctx, zerolog.ErrorLevel, fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.logg.Log(ctx, zerolog.ErrorLevel, "db.query.failed", map[string]any{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
			"error":      err.Error(),
		})
	case elapsed > g.slowQuery && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.logg.Log(ctx, zerolog.WarnLevel, "db.query.slow", map[string]any{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	case g.level >= gormlogger.Info && g.logg.Enabled(zerolog.DebugLevel):
		sql, rows := fc()
		g.logg.Log(ctx, zerolog.DebugLevel, "db.query", map[string]any{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
}
