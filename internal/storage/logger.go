package storage

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"time"

	"kioskguard/internal/ctxkeys"
	applog "kioskguard/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger 将日志库的 GORM 输出转发到应用日志。
// SQL 中出现的页面地址去掉查询参数与片段，票号等输入可能经由表单提交出现在其中。
type GormLogger struct {
	log           applog.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建 GormLogger
func NewGormLogger(l applog.Logger) *GormLogger {
	if l == nil {
		l = applog.NewNop()
	}
	return &GormLogger{
		log:           l,
		LogLevel:      logger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 记录一条 SQL，查询不到记录不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx,
		"sql", RedactSQL(sql),
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		l.log.Err(err, "日志库写入失败", fields...)
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.log.Warn("日志库慢查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.log.Debug("日志库SQL", fields...)
	}
}

// fields 以会话 ID 开头的键值对
func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	if sid, ok := ctx.Value(ctxkeys.TraceIDKey{}).(string); ok && sid != "" {
		return append([]any{"session", sid}, kv...)
	}
	return kv
}

var sqlString = regexp.MustCompile(`'(?:[^']|'')*'`)

// RedactSQL 对 SQL 中每个字符串字面量里的地址去掉查询参数与片段
func RedactSQL(sql string) string {
	return sqlString.ReplaceAllStringFunc(sql, func(lit string) string {
		inner := lit[1 : len(lit)-1]
		if red := RedactURL(inner); red != inner {
			return "'" + red + "'"
		}
		return lit
	})
}

// RedactURL 去掉绝对地址的查询参数与片段，其他字符串原样返回
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	if u.RawQuery == "" && u.Fragment == "" && !u.ForceQuery {
		return raw
	}
	u.RawQuery, u.Fragment, u.ForceQuery = "", "", false
	u.RawFragment = ""
	return u.String()
}
