package customers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/db/sqlitetest"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := sqlitetest.Open(t, &models.Customer{})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func TestEnsure_IsIdempotentAndLinksOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := svc.Ensure(ctx, EnsureInput{CustomerID: id, Email: "owner@example.com"})
	require.NoError(t, err)
	assert.Nil(t, first.BillingCustomerID)

	second, err := svc.Ensure(ctx, EnsureInput{CustomerID: id, BillingCustomerID: "cus_1"})
	require.NoError(t, err)
	require.NotNil(t, second.BillingCustomerID)
	assert.Equal(t, "cus_1", *second.BillingCustomerID)
	require.NotNil(t, second.Email)
	assert.Equal(t, "owner@example.com", *second.Email)

	_, err = svc.Ensure(ctx, EnsureInput{CustomerID: id, BillingCustomerID: "cus_1"})
	require.NoError(t, err)

	_, err = svc.Ensure(ctx, EnsureInput{CustomerID: id, BillingCustomerID: "cus_2"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestEnsure_RejectsBillingIDOwnedByAnotherCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ensure(ctx, EnsureInput{CustomerID: uuid.New(), BillingCustomerID: "cus_shared"})
	require.NoError(t, err)

	_, err = svc.Ensure(ctx, EnsureInput{CustomerID: uuid.New(), BillingCustomerID: "cus_shared"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestResolve_LinksFromClientReferenceThenFindsByBillingID(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := svc.Ensure(ctx, EnsureInput{CustomerID: id})
	require.NoError(t, err)

	var resolved *models.Customer
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		resolved, err = svc.Resolve(ctx, tx, "cus_link", id.String())
		return err
	}))
	assert.Equal(t, id, resolved.ID)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		resolved, err = svc.Resolve(ctx, tx, "cus_link", "")
		return err
	}))
	assert.Equal(t, id, resolved.ID)
}

func TestResolve_UnknownCustomer(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Resolve(ctx, tx, "cus_unknown", "")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	err = conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Resolve(ctx, tx, "", "not-a-uuid")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}
