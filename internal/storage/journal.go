package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kioskguard/internal/ctxkeys"
	"kioskguard/internal/logger"
	"kioskguard/pkg/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Visit 一次页面加载
type Visit struct {
	ID          string `gorm:"primaryKey;size:36"`
	SessionID   string `gorm:"index;size:36"`
	TargetID    string `gorm:"index"`
	URL         string
	Panels      int
	Bound       int
	IdleEnabled bool
	Detail      string
	CreatedAt   time.Time
}

// Redirect 一次空闲跳转
type Redirect struct {
	ID        string `gorm:"primaryKey;size:36"`
	VisitID   string `gorm:"index;size:36"`
	SessionID string `gorm:"size:36"`
	TargetID  string `gorm:"index"`
	Path      string
	Detail    string
	CreatedAt time.Time
}

// Journal 记录页面加载与空闲跳转，不记录任何输入内容
type Journal struct {
	db  *gorm.DB
	log logger.Logger

	mu        sync.Mutex
	lastVisit map[model.TargetID]string
}

// Open 打开 sqlite 数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Journal, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库 %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Visit{}, &Redirect{}); err != nil {
		return nil, fmt.Errorf("迁移表结构: %w", err)
	}
	return &Journal{db: db, log: l, lastVisit: make(map[model.TargetID]string)}, nil
}

// Close 关闭底层连接
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 根据事件类型写入日志，其他事件类型忽略
func (j *Journal) Record(ctx context.Context, ev model.Event) error {
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, string(ev.Session))
	switch ev.Type {
	case model.EventLoaded:
		_, err := j.RecordVisit(ctx, ev)
		return err
	case model.EventRedirected:
		return j.RecordRedirect(ctx, ev)
	case model.EventDetached:
		j.mu.Lock()
		delete(j.lastVisit, ev.Target)
		j.mu.Unlock()
	}
	return nil
}

// RecordVisit 写入页面加载记录
func (j *Journal) RecordVisit(ctx context.Context, ev model.Event) (string, error) {
	detail, _ := sjson.Set("{}", "session", string(ev.Session))
	detail, _ = sjson.Set(detail, "timestamp", ev.Timestamp)

	v := Visit{
		ID:          uuid.NewString(),
		SessionID:   string(ev.Session),
		TargetID:    string(ev.Target),
		URL:         RedactURL(ev.URL),
		Panels:      ev.Panels,
		Bound:       ev.Bound,
		IdleEnabled: ev.Idle,
		Detail:      detail,
	}
	if err := j.db.WithContext(ctx).Create(&v).Error; err != nil {
		return "", fmt.Errorf("写入页面加载记录: %w", err)
	}

	j.mu.Lock()
	j.lastVisit[ev.Target] = v.ID
	j.mu.Unlock()
	return v.ID, nil
}

// RecordRedirect 写入空闲跳转记录，关联该目标最近一次页面加载
func (j *Journal) RecordRedirect(ctx context.Context, ev model.Event) error {
	j.mu.Lock()
	visitID := j.lastVisit[ev.Target]
	j.mu.Unlock()

	detail, _ := sjson.Set("{}", "from", RedactURL(ev.URL))
	detail, _ = sjson.Set(detail, "timestamp", ev.Timestamp)

	r := Redirect{
		ID:        uuid.NewString(),
		VisitID:   visitID,
		SessionID: string(ev.Session),
		TargetID:  string(ev.Target),
		Path:      ev.Path,
		Detail:    detail,
	}
	if err := j.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("写入跳转记录: %w", err)
	}
	j.log.Debug("记录空闲跳转", "target", string(ev.Target), "path", ev.Path)
	return nil
}

// Visits 按时间倒序返回目标的页面加载记录
func (j *Journal) Visits(ctx context.Context, target model.TargetID, limit int) ([]Visit, error) {
	var out []Visit
	q := j.db.WithContext(ctx).Order("created_at desc")
	if target != "" {
		q = q.Where("target_id = ?", string(target))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Redirects 按时间倒序返回跳转记录
func (j *Journal) Redirects(ctx context.Context, limit int) ([]Redirect, error) {
	var out []Redirect
	q := j.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
