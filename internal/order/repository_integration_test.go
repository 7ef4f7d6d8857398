//go:build integration

package order_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/config"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/db"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/order"
)

var pg *db.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:14-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "secret",
				"POSTGRES_DB":       "orders",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start postgres container")
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve container host")
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve container port")
	}

	pg, err = db.New(ctx, config.PostgresConfig{
		Host:            host,
		Port:            port.Port(),
		User:            "postgres",
		Password:        "secret",
		DBName:          "orders",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MigrationsPath:  "../../migrations/order",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to test database")
	}
	if err := pg.ApplyMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	exitCode := m.Run()

	pg.Close()
	_ = container.Terminate(ctx)
	os.Exit(exitCode)
}

func setupRepository(t *testing.T) order.Repository {
	t.Helper()
	truncate := func() {
		_, err := pg.Pool.Exec(context.Background(),
			"TRUNCATE TABLE order_service.order_items, order_service.orders, order_service.processed_payment_events")
		require.NoError(t, err, "failed to truncate tables")
	}
	truncate()
	t.Cleanup(truncate)
	return order.NewRepository(pg.Pool)
}

func newOrder(userID uuid.UUID, number string) *order.Order {
	o := &order.Order{
		OrderNumber: number,
		UserID:      userID,
		UserEmail:   "reader@example.com",
		UserName:    "Ada Reader",
		ShippingAddress: order.ShippingAddress{
			Street: "1 Library Lane", City: "Paris", PostalCode: "75001", Country: "France", Phone: "+33100000000",
		},
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: "PAYPAL",
		Items: []order.OrderItem{
			{BookID: 1, Title: "Dune", Author: "Frank Herbert", ISBN: "isbn-1", Price: dec("10.00"), Quantity: 1},
			{BookID: 2, Title: "Emma", Author: "Jane Austen", ISBN: "isbn-2", Price: dec("5.00"), Quantity: 2},
		},
	}
	o.Recalculate()
	return o
}

func TestPostgresRepository_CreateAndRead(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	o := newOrder(userID, "ORD-10000001")
	require.NoError(t, repo.CreateOrder(ctx, o))
	require.NotEqual(t, uuid.Nil, o.ID)

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-10000001", got.OrderNumber)
	assert.Equal(t, "28.99", got.FinalAmount.StringFixed(2))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Dune", got.Items[0].Title)
	assert.Equal(t, "10.00", got.Items[1].TotalPrice.StringFixed(2))
	assert.Equal(t, "Paris", got.ShippingAddress.City)

	byNumber, err := repo.GetOrderByNumber(ctx, "ORD-10000001")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byNumber.ID)

	byUser, err := repo.GetOrdersByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	_, err = repo.GetOrderByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_DuplicateOrderNumber(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, newOrder(uuid.Must(uuid.NewV4()), "ORD-20000001")))
	err := repo.CreateOrder(ctx, newOrder(uuid.Must(uuid.NewV4()), "ORD-20000001"))
	assert.ErrorIs(t, err, order.ErrDuplicateOrderNumber)
}

func TestPostgresRepository_UpdateOrder(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newOrder(uuid.Must(uuid.NewV4()), "ORD-30000001")
	require.NoError(t, repo.CreateOrder(ctx, o))

	updated, err := repo.UpdateOrder(ctx, o.ID, func(o *order.Order) error {
		o.Status = order.StatusShipped
		o.TrackingNumber = "TRK-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, updated.Status)

	stored, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", stored.TrackingNumber)

	rejected := errors.New("rejected")
	_, err = repo.UpdateOrder(ctx, o.ID, func(o *order.Order) error {
		o.Status = order.StatusCancelled
		return rejected
	})
	assert.ErrorIs(t, err, rejected)

	stored, err = repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status, "a failed mutation must not be persisted")

	shipped, err := repo.GetOrdersByStatus(ctx, order.StatusShipped)
	require.NoError(t, err)
	assert.Len(t, shipped, 1)

	all, err := repo.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotEmpty(t, all[0].Items)
}

func TestPostgresRepository_ApplyPaymentEventOnce(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newOrder(uuid.Must(uuid.NewV4()), "ORD-40000001")
	require.NoError(t, repo.CreateOrder(ctx, o))

	calls := 0
	mutate := func(o *order.Order) error {
		calls++
		o.PaymentStatus = order.PaymentPaid
		return nil
	}

	_, applied, err := repo.ApplyPaymentEvent(ctx, o.ID, "pay-1:SUCCEEDED", mutate)
	require.NoError(t, err)
	assert.True(t, applied)

	again, applied, err := repo.ApplyPaymentEvent(ctx, o.ID, "pay-1:SUCCEEDED", mutate)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, order.PaymentPaid, again.PaymentStatus)
	assert.Equal(t, 1, calls)
}

func TestPostgresRepository_UserStatsSkipCancelled(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	require.NoError(t, repo.CreateOrder(ctx, newOrder(userID, "ORD-50000001")))
	cancelled := newOrder(userID, "ORD-50000002")
	cancelled.Status = order.StatusCancelled
	require.NoError(t, repo.CreateOrder(ctx, cancelled))

	stats, err := repo.GetUserStats(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrderCount)
	assert.Equal(t, "28.99", stats.TotalSpent.StringFixed(2))
}
