package usercode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pipehost/pkg/api"
)

func TestBoundary_SuccessDoesNotEvaluateMessage(t *testing.T) {
	called := false
	v, err := Boundary(context.Background(), NewScheduleExecutionError, func() string {
		called = true
		return "unused"
	}, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, called)
}

func TestBoundary_WrapsErrorInDeclaredKind(t *testing.T) {
	original := errors.New("bad cron")
	_, err := Boundary(context.Background(), NewScheduleExecutionError, func() string {
		return "Error occurred during the execution of tags_fn for schedule nightly"
	}, func() (map[string]string, error) {
		return nil, original
	})

	var schedErr *ScheduleExecutionError
	require.True(t, errors.As(err, &schedErr))
	assert.Equal(t, "Error occurred during the execution of tags_fn for schedule nightly", schedErr.Message)
	require.NotNil(t, schedErr.OriginalErrorInfo)
	assert.Equal(t, "bad cron", schedErr.OriginalErrorInfo.Message)
	assert.ErrorIs(t, err, original)

	var partErr *PartitionExecutionError
	assert.False(t, errors.As(err, &partErr))
}

func TestBoundary_KindsStayIsolatedForIdenticalFaults(t *testing.T) {
	fault := func() (int, error) { return 0, fmt.Errorf("division by zero") }
	msg := func() string { return "ctx" }

	_, schedErr := Boundary(context.Background(), NewScheduleExecutionError, msg, fault)
	_, partErr := Boundary(context.Background(), NewPartitionExecutionError, msg, fault)

	var s *ScheduleExecutionError
	var p *PartitionExecutionError
	assert.True(t, errors.As(schedErr, &s))
	assert.False(t, errors.As(schedErr, &p))
	assert.True(t, errors.As(partErr, &p))
	assert.False(t, errors.As(partErr, &s))
}

func TestBoundary_RecoversPanics(t *testing.T) {
	v, err := Boundary(context.Background(), NewPartitionExecutionError, func() string { return "partition fn" }, func() ([]string, error) {
		panic("index out of range")
	})
	assert.Nil(t, v)

	var partErr *PartitionExecutionError
	require.True(t, errors.As(err, &partErr))
	assert.Equal(t, "PanicError", partErr.OriginalErrorInfo.ClsName)
	assert.Equal(t, "panic: index out of range", partErr.OriginalErrorInfo.Message)
	assert.NotEmpty(t, partErr.OriginalErrorInfo.Stack)
}

func TestBoundary_CancellationOfCallerContextPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(&api.InterruptedError{Reason: "SIGINT"})

	for _, fault := range []error{
		context.Canceled,
		api.ErrInterrupted,
		fmt.Errorf("solid: %w", context.Canceled),
		fmt.Errorf("solid: %w", &api.InterruptedError{Reason: "SIGINT"}),
	} {
		_, err := Boundary(ctx, NewScheduleExecutionError, func() string { return "x" }, func() (bool, error) {
			return false, fault
		})
		assert.Equal(t, fault, err)
	}
}

func TestBoundary_DeadlinePassesThroughOnlyForExpiredCaller(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := Boundary(ctx, NewSolidExecutionError, func() string { return "x" }, func() (int, error) {
		return 0, fmt.Errorf("call: %w", context.DeadlineExceeded)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var solidErr *SolidExecutionError
	assert.False(t, errors.As(err, &solidErr))
}

func TestBoundary_SelfMadeCancellationIsUserFault(t *testing.T) {
	for _, fault := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("call: %w", context.DeadlineExceeded),
		&api.InterruptedError{Reason: "from user code"},
	} {
		_, err := Boundary(context.Background(), NewSolidExecutionError, func() string { return "solid failed" }, func() (int, error) {
			return 0, fault
		})
		var solidErr *SolidExecutionError
		require.True(t, errors.As(err, &solidErr), "fault %v was not wrapped", fault)
		assert.Equal(t, "solid failed", solidErr.Message)
		assert.ErrorIs(t, err, fault)
	}
}

func TestErrorInfo_ReportsDomainKindWithCause(t *testing.T) {
	err := Do(context.Background(), NewScheduleExecutionError, func() string { return "should_execute failed" }, func() error {
		return errors.New("db down")
	})

	info := api.ErrorInfoFromError(err)
	assert.Equal(t, "ScheduleExecutionError", info.ClsName)
	assert.Equal(t, "should_execute failed", info.Message)
	require.NotNil(t, info.Cause)
	assert.Equal(t, "db down", info.Cause.Message)
}
