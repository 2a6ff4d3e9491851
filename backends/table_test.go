package backends_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/9seconds/geocompare/backends"
	"github.com/9seconds/geocompare/geolib"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type TableTestSuite struct {
	suite.Suite

	ctx       context.Context
	storeMock *TableStoreMock
	table     *backends.Table
}

func (suite *TableTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.storeMock = &TableStoreMock{}
	suite.table = backends.NewTable(suite.storeMock)
}

func (suite *TableTestSuite) TearDownTest() {
	suite.storeMock.AssertExpectations(suite.T())
}

func (suite *TableTestSuite) TestNotConfigured() {
	table := backends.NewTable(nil)

	_, err := table.Resolve(suite.ctx, net.ParseIP("8.8.8.8"))
	suite.True(errors.Is(err, geolib.ErrNotConfigured))

	_, err = table.Upsert(suite.ctx, &geolib.Record{IP: "8.8.8.8"})
	suite.True(errors.Is(err, geolib.ErrNotConfigured))

	_, err = table.Count(suite.ctx)
	suite.True(errors.Is(err, geolib.ErrNotConfigured))

	_, err = table.Purge(suite.ctx)
	suite.True(errors.Is(err, geolib.ErrNotConfigured))

	suite.True(errors.Is(table.Migrate(suite.ctx), geolib.ErrNotConfigured))
	suite.NoError(table.Close())
}

func (suite *TableTestSuite) TestResolveInvalidAddress() {
	_, err := suite.table.Resolve(suite.ctx, net.ParseIP("::1"))

	suite.True(errors.Is(err, geolib.ErrInvalidAddress))
}

func (suite *TableTestSuite) TestResolveConnectivityError() {
	suite.storeMock.
		On("Get", mock.Anything, net.ParseIP("8.8.8.8").To4()).
		Return(nil, io.ErrUnexpectedEOF).
		Once()

	_, err := suite.table.Resolve(suite.ctx, net.ParseIP("8.8.8.8"))

	suite.True(errors.Is(err, io.ErrUnexpectedEOF))
}

func (suite *TableTestSuite) TestUpsertWithoutAddress() {
	_, err := suite.table.Upsert(suite.ctx, &geolib.Record{CountryCode: geolib.NullString("GB")})

	suite.True(errors.Is(err, geolib.ErrInvalidAddress))
}

func (suite *TableTestSuite) TestUpsertEmptyRecord() {
	_, err := suite.table.Upsert(suite.ctx, &geolib.Record{
		IP:        "8.8.8.8",
		Latitude:  geolib.NullFloat64(10),
		Longitude: geolib.NullFloat64(20),
		Region:    geolib.NullString("California"),
	})

	suite.ErrorContains(err, "no location")
	suite.storeMock.AssertNotCalled(suite.T(), "Upsert", mock.Anything, mock.Anything)
}

func (suite *TableTestSuite) TestUpsertUnpairedCoordinates() {
	_, err := suite.table.Upsert(suite.ctx, &geolib.Record{
		IP:          "8.8.8.8",
		CountryCode: geolib.NullString("US"),
		Latitude:    geolib.NullFloat64(10),
	})

	suite.Error(err)
}

func (suite *TableTestSuite) TestUpsertOk() {
	record := &geolib.Record{
		IP:          "8.8.8.8",
		CountryCode: geolib.NullString("US"),
	}

	suite.storeMock.On("Upsert", mock.Anything, record).Return(true, nil).Once()

	created, err := suite.table.Upsert(suite.ctx, record)

	suite.NoError(err)
	suite.True(created)
}

func (suite *TableTestSuite) TestCount() {
	suite.storeMock.On("Count", mock.Anything).Return(int64(42), nil).Once()

	count, err := suite.table.Count(suite.ctx)

	suite.NoError(err)
	suite.EqualValues(42, count)
}

func (suite *TableTestSuite) TestOpenTableStore() {
	_, err := backends.OpenTableStore(suite.ctx, "")
	suite.True(errors.Is(err, geolib.ErrNotConfigured))

	_, err = backends.OpenTableStore(suite.ctx, "mysql://localhost/db")
	suite.Error(err)

	_, err = backends.OpenTableStore(suite.ctx, "localhost")
	suite.Error(err)
}

func TestTable(t *testing.T) {
	suite.Run(t, &TableTestSuite{})
}
