package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/BearBump/PackBox/internal/broker/messages"
	"github.com/BearBump/PackBox/internal/models"
)

type repoMock struct {
	mock.Mock
}

func (m *repoMock) GetJob(ctx context.Context, orderID string) (*models.Job, error) {
	args := m.Called(ctx, orderID)
	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *repoMock) ListByStates(ctx context.Context, states ...string) ([]*models.Job, error) {
	args := m.Called(ctx, states)
	js, _ := args.Get(0).([]*models.Job)
	return js, args.Error(1)
}

type cacheMock struct {
	mock.Mock
}

func (m *cacheMock) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *cacheMock) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

type ServiceSuite struct {
	suite.Suite

	repo  *repoMock
	cache *cacheMock
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &repoMock{}
	s.cache = &cacheMock{}
	s.svc = New(s.repo, s.cache, 10*time.Minute)
}

func (s *ServiceSuite) TestGetJob_CacheHit_NoDB() {
	j := &models.Job{ID: 7, OrderID: "1001", State: models.JobStateBooked}
	b, _ := json.Marshal(j)

	s.cache.On("Get", mock.Anything, "job:1001:current").
		Return(b, true, nil).
		Once()

	out, err := s.svc.GetJob(context.Background(), "1001")
	s.Require().NoError(err)
	s.Require().Equal("1001", out.OrderID)
	s.Require().Equal(models.JobStateBooked, out.State)

	s.repo.AssertNotCalled(s.T(), "GetJob", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetJob_CacheMiss_LoadsAndSets() {
	s.cache.On("Get", mock.Anything, "job:1001:current").
		Return([]byte(nil), false, nil).
		Once()
	s.repo.On("GetJob", mock.Anything, "1001").
		Return(&models.Job{ID: 1, OrderID: "1001", State: models.JobStateQueued}, nil).
		Once()
	// Set ошибки игнорируются
	s.cache.On("Set", mock.Anything, "job:1001:current", mock.Anything, 10*time.Minute).
		Return(errors.New("set failed")).
		Once()

	out, err := s.svc.GetJob(context.Background(), "1001")
	s.Require().NoError(err)
	s.Require().Equal("1001", out.OrderID)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetJob_CacheBadJSON_IsMiss() {
	s.cache.On("Get", mock.Anything, "job:1001:current").
		Return([]byte("not-json"), true, nil).
		Once()
	s.repo.On("GetJob", mock.Anything, "1001").
		Return(&models.Job{ID: 1, OrderID: "1001"}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "job:1001:current", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	_, err := s.svc.GetJob(context.Background(), "1001")
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetJob_CacheDisabled_GoesToDB() {
	svc := New(s.repo, nil, 0)
	s.repo.On("GetJob", mock.Anything, "1001").
		Return(&models.Job{ID: 1, OrderID: "1001"}, nil).
		Once()

	_, err := svc.GetJob(context.Background(), "1001")
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetJob_ValidatesOrderID() {
	_, err := s.svc.GetJob(context.Background(), "")
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "GetJob", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestListJobs_DefaultsToAllStates() {
	s.repo.On("ListByStates", mock.Anything, allStates).
		Return([]*models.Job{{ID: 1}}, nil).
		Once()

	out, err := s.svc.ListJobs(context.Background(), nil)
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestListJobs_RejectsUnknownState() {
	_, err := s.svc.ListJobs(context.Background(), []string{"SHIPPED"})
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "ListByStates", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyKafkaUpdate_AppendsAndReloadsCache() {
	s.repo.On("GetJob", mock.Anything, "1001").
		Return(&models.Job{ID: 1, OrderID: "1001", State: models.JobStateDone}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "job:1001:current", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	err := s.svc.ApplyKafkaUpdate(context.Background(), messages.JobUpdated{
		OrderID: "1001",
		State:   models.JobStateDone,
	})
	s.Require().NoError(err)

	evs := s.svc.RecentEvents()
	s.Require().Len(evs, 1)
	s.Require().Equal("1001", evs[0].OrderID)
	s.Require().False(evs[0].At.IsZero())
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyKafkaUpdate_ValidatesOrderID() {
	s.Require().Error(s.svc.ApplyKafkaUpdate(context.Background(), messages.JobUpdated{}))
	s.Require().Empty(s.svc.RecentEvents())
}

func (s *ServiceSuite) TestApplyKafkaUpdate_ReloadFailure_SkipsCacheSet() {
	svc := New(s.repo, s.cache, 10*time.Minute)
	s.repo.On("GetJob", mock.Anything, "1001").
		Return((*models.Job)(nil), errors.New("db down")).
		Once()

	s.Require().NoError(svc.ApplyKafkaUpdate(context.Background(), messages.JobUpdated{OrderID: "1001", State: models.JobStateBooked}))
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestRecentEvents_RingCapped() {
	svc := New(s.repo, nil, 0)
	for i := 0; i < recentLimit+20; i++ {
		s.Require().NoError(svc.ApplyKafkaUpdate(context.Background(), messages.JobUpdated{
			OrderID: "1001",
			State:   models.JobStateBooked,
			At:      time.Now().UTC(),
		}))
	}
	s.Require().Len(svc.RecentEvents(), recentLimit)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
