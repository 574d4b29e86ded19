package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/salestax/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialectSelectsDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": "postgres",
		"MySQL":    "mysql",
		"sqlite":   "sqlite",
	}
	for typ, want := range cases {
		d, err := Dialect(Config{Type: typ, Name: "salestax"})
		require.NoError(t, err, typ)
		assert.Equal(t, want, d.Name())
	}

	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Config{
		DBType:         "postgres",
		DBHost:         "db",
		DBName:         "tax",
		DBMaxOpenConn:  7,
		TracingEnabled: true,
	})
	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, "tax", cfg.Name)
	assert.Equal(t, 7, cfg.MaxOpenConn)
	assert.True(t, cfg.Tracing)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "idx_sales_invoices_order_id"`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: sales_invoices.order_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}
