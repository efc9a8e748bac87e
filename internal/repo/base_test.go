package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/db/sqlitetest"
)

type ctxKey struct{}

func TestBaseDBBindsContext(t *testing.T) {
	conn := sqlitetest.Open(t, &models.Customer{})
	base := NewBase(conn)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)
	require.NotNil(t, withCtx.Statement)
	require.Equal(t, ctx, withCtx.Statement.Context)

	require.Same(t, conn, base.DB(nil))
}

func TestBindUsesTransaction(t *testing.T) {
	conn := sqlitetest.Open(t, &models.Customer{})
	base := NewBase(conn)

	require.Same(t, conn, base.Bind(nil).db)

	err := conn.Transaction(func(tx *gorm.DB) error {
		bound := base.Bind(tx)
		require.Same(t, tx, bound.db)
		return bound.DB(context.Background()).Create(&models.Customer{}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.Customer{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestFirstReturnsNilWhenMissing(t *testing.T) {
	conn := sqlitetest.Open(t, &models.Customer{})
	base := NewBase(conn)
	ctx := context.Background()

	missing, err := First[models.Customer](base.DB(ctx).Where("email = ?", "nobody@example.com"))
	require.NoError(t, err)
	require.Nil(t, missing)

	email := "someone@example.com"
	require.NoError(t, base.DB(ctx).Create(&models.Customer{Email: &email}).Error)

	found, err := First[models.Customer](base.DB(ctx).Where("email = ?", email))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, email, *found.Email)
}
