package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// GormLoggerConfig configures SQL logging for the order and sales invoice
// stores.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// ParseGormLevel maps a log level name to a gorm level. Unknown names fall
// back to warn so slow queries stay visible.
func ParseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// GormLogger writes gorm events through zap, tagged with the order and
// correlation ids carried by the query context. ErrRecordNotFound is never
// logged: finders translate it to a nil result.
type GormLogger struct {
	log   *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(cfg GormLoggerConfig, log *zap.Logger) *GormLogger {
	if log == nil {
		log = zap.NewNop()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &GormLogger{
		log:   log.Named("gorm"),
		level: cfg.Level,
		slow:  slow,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.event(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.event(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.event(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) event(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	var fields []zap.Field
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := WithContext(ctx, l.log).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed queries at error, slow ones at warn and the rest at debug
// when the level is info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.query(ctx, zapcore.ErrorLevel, "gorm.query.failed", fc, elapsed, err)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		l.query(ctx, zapcore.WarnLevel, "gorm.query.slow", fc, elapsed, nil)
	case l.level >= gormlogger.Info:
		l.query(ctx, zapcore.DebugLevel, "gorm.query", fc, elapsed, nil)
	}
}

// ParamsFilter drops bound values; order queries carry customer emails and
// addresses.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) query(ctx context.Context, level zapcore.Level, msg string, fc func() (string, int64), elapsed time.Duration, err error) {
	ce := WithContext(ctx, l.log).Check(level, msg)
	if ce == nil {
		return
	}

	sql, rows := fc()
	sql = strings.TrimSpace(sql)
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.String("operation", op),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if table != "" {
		fields = append(fields, zap.String("table", table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// describeSQL returns the statement verb and the first table it names.
func describeSQL(sql string) (string, string) {
	tokens := strings.Fields(sql)
	op := "UNKNOWN"
	for i, raw := range tokens {
		token := strings.ToUpper(strings.Trim(raw, "();"))
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if op == "UNKNOWN" {
				op = token
			}
			if token == "UPDATE" && i+1 < len(tokens) {
				return op, tableName(tokens[i+1])
			}
		case "FROM", "INTO":
			if op != "UNKNOWN" && i+1 < len(tokens) {
				return op, tableName(tokens[i+1])
			}
		}
	}
	return op, ""
}

func tableName(token string) string {
	return strings.Trim(token, "\"`();")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
