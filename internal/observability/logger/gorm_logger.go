package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures query logging for the order and ledger stores.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// IsDuplicate recognizes unique violations. On the ledger they mean a
	// redelivered event lost the insert race and are logged below error.
	IsDuplicate func(error) bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// GormLogger writes gorm output through zap, tagged with the request and
// payment event found on the context.
type GormLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	isDuplicate   func(error) bool
}

// NewGormLogger uses the global logger when base is nil.
func NewGormLogger(base *zap.Logger, cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{
		base:          base,
		level:         cfg.Level,
		slowThreshold: cfg.SlowThreshold,
		isDuplicate:   cfg.IsDuplicate,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger(ctx).Info(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger(ctx).Warn(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger(ctx).Error(msg, zap.Any("data", data))
	}
}

// Trace logs failed and slow statements. Missing orders and lost ledger
// inserts are normal reconciliation results and stay at debug or info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
		if l.level >= gormlogger.Info {
			l.write(ctx, fc, elapsed, nil).Debug("query matched no rows")
		}
	case err != nil && l.isDuplicate != nil && l.isDuplicate(err):
		if l.level >= gormlogger.Warn {
			l.write(ctx, fc, elapsed, err).Info("duplicate insert rejected")
		}
	case err != nil:
		if l.level >= gormlogger.Error {
			l.write(ctx, fc, elapsed, err).Error("query failed")
		}
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		if l.level >= gormlogger.Warn {
			l.write(ctx, fc, elapsed, nil).Warn("slow query", zap.Duration("threshold", l.slowThreshold))
		}
	case l.level >= gormlogger.Info:
		l.write(ctx, fc, elapsed, nil).Debug("query")
	}
}

// ParamsFilter drops bound values; they carry raw webhook payloads.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	base := l.base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base).With(zap.String("component", "gorm"))
}

func (l *GormLogger) write(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error) *zap.Logger {
	sql, rows := fc()
	operation, table := statementTarget(sql)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.Join(strings.Fields(sql), " ")),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return l.logger(ctx).With(fields...)
}

// statementTarget returns the verb and the first table a statement touches.
func statementTarget(sql string) (string, string) {
	tokens := strings.Fields(strings.ToUpper(sql))
	raw := strings.Fields(sql)

	operation := "UNKNOWN"
	for i, token := range tokens {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if operation == "UNKNOWN" {
				operation = token
			}
			if token == "UPDATE" && i+1 < len(raw) {
				return operation, tableName(raw[i+1])
			}
		case "FROM", "INTO":
			if operation != "UNKNOWN" && i+1 < len(raw) {
				return operation, tableName(raw[i+1])
			}
		}
	}
	return operation, ""
}

func tableName(token string) string {
	token = strings.Trim(token, `"();`+"`")
	if i := strings.IndexByte(token, '('); i >= 0 {
		token = token[:i]
	}
	return strings.ToLower(token)
}

var _ gormlogger.Interface = (*GormLogger)(nil)
