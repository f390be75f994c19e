package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
	"github.com/ZanzyTHEbar/sirecov/sirecov/store"
)

type ServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	path    string
	store   *store.FlatFileStore
	service *Service
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "covid_records.txt")
	s.Require().NoError(os.WriteFile(s.path, []byte("country,date,type,cases\n"+
		"Colombia,2021-01-01,confirmed,100\n"+
		"Colombia,2021-02-10,death,5\n"+
		"Peru,2021-01-05,recovered,12\n"), 0o644))

	st, err := store.NewFlatFileStore(s.path, zerolog.Nop())
	s.Require().NoError(err)
	s.store = st

	coord := NewCoordinator(Options{FilterExpectedItems: 1000, FilterFalsePositiveRate: 0.01}, nil, zerolog.Nop())
	s.service = NewService(st, coord, zerolog.Nop())
}

func (s *ServiceTestSuite) appendRaw(line string) {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	s.Require().NoError(err)
	_, err = f.WriteString(line)
	s.Require().NoError(err)
	s.Require().NoError(f.Close())
}

func (s *ServiceTestSuite) TestAddBeforeLoad() {
	_, err := s.service.Add(s.ctx, records.Record{Country: "Chile", Date: "2021-01-01", Type: records.Death, Cases: 1})
	s.ErrorIs(err, ErrNotBuilt)

	_, err = s.service.Sync(s.ctx)
	s.ErrorIs(err, ErrNotBuilt)
}

func (s *ServiceTestSuite) TestLoadBuildsIndexes() {
	s.Require().NoError(s.service.Load(s.ctx))

	coord := s.service.Coordinator()
	s.True(coord.Built())
	s.Equal(3, coord.Len())
	s.Len(coord.LookupByCountry("colombia"), 2)
	s.Empty(coord.Validate())
}

func (s *ServiceTestSuite) TestAddAppendsAndIndexes() {
	s.Require().NoError(s.service.Load(s.ctx))

	added, err := s.service.Add(s.ctx, records.Record{Country: "  Chile ", Date: "2021-03-01", Type: "Death", Cases: 3})
	s.Require().NoError(err)
	s.Equal(records.Record{Country: "Chile", Date: "2021-03-01", Type: records.Death, Cases: 3}, added)

	stored, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	s.Len(stored, 4)
	s.Equal(added, stored[3])

	got, ok, err := s.service.Get(s.ctx, "chile", "2021-03-01", "death")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(added, got)
	s.Equal(4, s.service.Coordinator().Len())
}

func (s *ServiceTestSuite) TestAddRejectsDuplicates() {
	s.Require().NoError(s.service.Load(s.ctx))

	_, err := s.service.Add(s.ctx, records.Record{Country: "COLOMBIA", Date: "2021-01-01", Type: "Confirmed", Cases: 999})
	s.ErrorIs(err, store.ErrDuplicateRecord)

	_, err = s.service.Add(s.ctx, records.Record{Country: "Colombia", Date: "2021-01-01", Type: records.Recovered, Cases: 1})
	s.NoError(err, "same country and date with another type is a different record")

	stored, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	s.Len(stored, 4)
}

func (s *ServiceTestSuite) TestAddRejectsInvalid() {
	s.Require().NoError(s.service.Load(s.ctx))

	_, err := s.service.Add(s.ctx, records.Record{Country: "Chile", Date: "2021-02-29", Type: records.Death, Cases: 1})
	s.ErrorIs(err, records.ErrInvalidRecord)
	s.Equal(3, s.service.Coordinator().Len())
}

func (s *ServiceTestSuite) TestGetMisses() {
	s.Require().NoError(s.service.Load(s.ctx))

	_, ok, err := s.service.Get(s.ctx, "Colombia", "2021-01-01", "death")
	s.NoError(err)
	s.False(ok)

	_, ok, err = s.service.Get(s.ctx, "", "", "")
	s.NoError(err)
	s.False(ok)

	cancelled, cancel := context.WithCancel(s.ctx)
	cancel()
	_, _, err = s.service.Get(cancelled, "Colombia", "2021-01-01", "confirmed")
	s.ErrorIs(err, context.Canceled)
}

func (s *ServiceTestSuite) TestSyncAppliesExternalAppends() {
	s.Require().NoError(s.service.Load(s.ctx))

	_, err := s.service.Add(s.ctx, records.Record{Country: "Chile", Date: "2021-03-01", Type: records.Death, Cases: 3})
	s.Require().NoError(err)
	s.appendRaw("Brazil,2021-03-02,confirmed,50\nnot a record\nArgentina,2021-03-0")

	applied, err := s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, applied, "own appends are already indexed and partial lines wait")
	s.Equal(5, s.service.Coordinator().Len())

	s.appendRaw("3,recovered,7\n")
	applied, err = s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, applied)
	s.Len(s.service.Coordinator().LookupByCountry("argentina"), 1)

	applied, err = s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(applied)
	s.Empty(s.service.Coordinator().Validate())
}

func (s *ServiceTestSuite) TestLoadIncludesUnterminatedLastLine() {
	s.appendRaw("Chile,2021-01-02,death,1")
	s.Require().NoError(s.service.Load(s.ctx))

	coord := s.service.Coordinator()
	s.Equal(4, coord.Len())
	s.Len(coord.LookupByCountry("chile"), 1)
	s.Len(coord.RangeByDate("2021-01-02", "2021-01-02"), 1)

	_, err := s.service.Add(s.ctx, records.Record{Country: "Chile", Date: "2021-01-02", Type: records.Death, Cases: 1})
	s.ErrorIs(err, store.ErrDuplicateRecord)

	stored, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	s.Len(stored, 4, "the store keeps a single copy")

	applied, err := s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(applied)

	s.appendRaw("\nBrazil,2021-01-03,confirmed,8\n")
	applied, err = s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, applied, "the completed last line is already indexed")
	s.Equal(5, coord.Len())
	s.Empty(coord.Validate())
}

func (s *ServiceTestSuite) TestDuplicateLinesIndexedOnce() {
	s.appendRaw("Colombia,2021-01-01,confirmed,7\n")
	s.Require().NoError(s.service.Load(s.ctx))

	coord := s.service.Coordinator()
	s.Equal(3, coord.Len())
	r, ok := coord.FindRecord("colombia", "2021-01-01", "confirmed")
	s.Require().True(ok)
	s.Equal(int64(100), r.Cases, "the first line wins")

	s.appendRaw("Peru,2021-01-05,recovered,99\n")
	applied, err := s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(applied)

	s.Require().NoError(s.service.Load(s.ctx))
	s.Equal(3, coord.Len(), "reload and sync agree on duplicates")
	s.Empty(coord.Validate())
}

func (s *ServiceTestSuite) TestSyncReloadsAfterTruncation() {
	s.Require().NoError(s.service.Load(s.ctx))
	s.Require().NoError(os.WriteFile(s.path, []byte("country,date,type,cases\nPeru,2021-01-05,recovered,12\n"), 0o644))

	_, err := s.service.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, s.service.Coordinator().Len())
	s.Empty(s.service.Coordinator().LookupByCountry("colombia"))
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
