package enqueuer

import (
	"context"
	"testing"

	"github.com/BearBump/PackBox/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	jobs      map[string]*models.Job
	resets    int
	createdIn []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: map[string]*models.Job{}}
}

func (f *fakeRepo) CreateIfAbsent(ctx context.Context, orderID, payloadJSON string) (*models.Job, bool, error) {
	if j, ok := f.jobs[orderID]; ok {
		return j, false, nil
	}
	j := &models.Job{OrderID: orderID, State: models.JobStateQueued, PayloadJSON: payloadJSON}
	f.jobs[orderID] = j
	f.createdIn = append(f.createdIn, orderID)
	return j, true, nil
}

func (f *fakeRepo) ResetFailed(ctx context.Context, orderID string) (bool, error) {
	j, ok := f.jobs[orderID]
	if !ok || j.State != models.JobStateFailed {
		return false, nil
	}
	j.State = models.JobStateQueued
	j.AttemptCount = 0
	j.LastError = nil
	f.resets++
	return true, nil
}

func payload(orderID string) models.OrderPayload {
	return models.OrderPayload{OrderID: orderID, Address: models.Address{City: "Oslo", CountryCode: "NO"}}
}

func TestEnqueue_Created(t *testing.T) {
	s := New(newFakeRepo())
	res, err := s.Enqueue(context.Background(), payload("A"))
	require.NoError(t, err)
	require.Equal(t, ResultCreated, res)
}

func TestEnqueue_RequiresOrderID(t *testing.T) {
	s := New(newFakeRepo())
	_, err := s.Enqueue(context.Background(), models.OrderPayload{})
	require.Error(t, err)
}

func TestEnqueue_DuplicateIsNoop(t *testing.T) {
	r := newFakeRepo()
	s := New(r)

	_, err := s.Enqueue(context.Background(), payload("A"))
	require.NoError(t, err)

	res, err := s.Enqueue(context.Background(), payload("A"))
	require.NoError(t, err)
	require.Equal(t, ResultAlreadyQueued, res)
	require.Len(t, r.createdIn, 1)
}

func TestEnqueue_FailedResetsToQueued(t *testing.T) {
	r := newFakeRepo()
	s := New(r)

	_, err := s.Enqueue(context.Background(), payload("B"))
	require.NoError(t, err)
	r.jobs["B"].State = models.JobStateFailed
	msg := "boom"
	r.jobs["B"].LastError = &msg
	r.jobs["B"].AttemptCount = 3

	res, err := s.Enqueue(context.Background(), payload("B"))
	require.NoError(t, err)
	require.Equal(t, ResultResetFromFailed, res)
	require.Equal(t, models.JobStateQueued, r.jobs["B"].State)
	require.Zero(t, r.jobs["B"].AttemptCount)
	require.Nil(t, r.jobs["B"].LastError)
}

func TestEnqueueAll_DedupAndValidate(t *testing.T) {
	r := newFakeRepo()
	s := New(r)

	_, err := s.EnqueueAll(context.Background(), nil)
	require.Error(t, err)

	out, err := s.EnqueueAll(context.Background(), []models.OrderPayload{
		payload("A"), payload("A"), payload("B"),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, ResultCreated, out["A"])
	require.Equal(t, ResultCreated, out["B"])
	require.Len(t, r.createdIn, 2)
}
