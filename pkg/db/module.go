package db

import (
	"context"
	"time"

	"github.com/smallbiznis/salestax/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(ConfigFrom),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Cfg        Config
	Log        *zap.Logger
	GormLogger *logger.GormLogger `optional:"true"`
}

// New opens the database, applies pool limits and installs the tracing and
// pool metrics plugins.
func New(p Params) (*gorm.DB, error) {
	log := p.Log.Named("db")

	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{TranslateError: true}
	if p.GormLogger != nil {
		gormCfg.Logger = p.GormLogger
	}
	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Cfg.MaxIdleConn)
	}
	if p.Cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Cfg.MaxOpenConn)
	}
	if p.Cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(p.Cfg.ConnMaxLifetime) * time.Second)
	}
	if p.Cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(p.Cfg.ConnMaxIdleTime) * time.Second)
	}

	if p.Cfg.Tracing {
		if err := conn.Use(otelgorm.NewPlugin(
			otelgorm.WithDBName(p.Cfg.Name),
			otelgorm.WithoutQueryVariables(),
		)); err != nil {
			return nil, err
		}
	}

	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          p.Cfg.Name,
		RefreshInterval: 15,
	})); err != nil {
		log.Warn("gorm prometheus plugin disabled", zap.Error(err))
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})

	log.Info("database connected",
		zap.String("type", p.Cfg.Type),
		zap.String("name", p.Cfg.Name),
	)
	return conn, nil
}
