package backends_test

import (
	"context"
	"net"

	"github.com/9seconds/geocompare/geolib"
	"github.com/stretchr/testify/mock"
)

type backendFunc func(context.Context, net.IP) (*geolib.Record, error)

func (b backendFunc) Name() string {
	return "func"
}

func (b backendFunc) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	return b(ctx, ip)
}

type TableStoreMock struct {
	mock.Mock
}

func (m *TableStoreMock) Get(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	args := m.Called(ctx, ip)

	record, _ := args.Get(0).(*geolib.Record)

	return record, args.Error(1)
}

func (m *TableStoreMock) Upsert(ctx context.Context, record *geolib.Record) (bool, error) {
	args := m.Called(ctx, record)

	return args.Bool(0), args.Error(1)
}

func (m *TableStoreMock) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)

	return args.Get(0).(int64), args.Error(1)
}

func (m *TableStoreMock) Purge(ctx context.Context) (int64, error) {
	args := m.Called(ctx)

	return args.Get(0).(int64), args.Error(1)
}

func (m *TableStoreMock) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *TableStoreMock) Close() error {
	return m.Called().Error(0)
}
