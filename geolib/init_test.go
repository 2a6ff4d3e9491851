package geolib_test

import (
	"context"
	"net"
	"time"

	"github.com/9seconds/geocompare/geolib"
	"github.com/stretchr/testify/mock"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	args := m.Called(ctx, ip)

	record, _ := args.Get(0).(*geolib.Record)

	return record, args.Error(1)
}

func (m *BackendMock) Name() string {
	return m.Called().String(0)
}

type StoreMock struct {
	BackendMock
}

func (m *StoreMock) Upsert(ctx context.Context, record *geolib.Record) (bool, error) {
	args := m.Called(ctx, record)

	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)

	return args.Get(0).(int64), args.Error(1)
}

type LoggerMock struct {
	mock.Mock
}

func (m *LoggerMock) LookupError(ip net.IP, name string, err error) {
	m.Called(ip, name, err)
}

func (m *LoggerMock) ImportInfo(summary geolib.ImportSummary, msg string) {
	m.Called(summary, msg)
}

func (m *LoggerMock) ImportError(ip net.IP, err error) {
	m.Called(ip, err)
}

func makeRecord(ip, countryCode, city string) *geolib.Record {
	record := &geolib.Record{
		IP:          ip,
		CountryCode: geolib.NullString(countryCode),
		City:        geolib.NullString(city),
	}

	record.Normalize()

	return record
}

type funcBackend struct {
	name    string
	resolve func(context.Context, net.IP) (*geolib.Record, error)
}

func (f funcBackend) Name() string {
	return f.name
}

func (f funcBackend) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	return f.resolve(ctx, ip)
}

func staticBackend(name string, delay time.Duration, record *geolib.Record, err error) funcBackend {
	return funcBackend{
		name: name,
		resolve: func(ctx context.Context, _ net.IP) (*geolib.Record, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			return record, err
		},
	}
}
