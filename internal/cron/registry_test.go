package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry, err := NewRegistry(jobA, nil, jobB)
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Equal(t, []Job{jobA, jobB}, jobs)

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "recovery"}, &stubJob{name: "recovery"})
	require.ErrorContains(t, err, "registered twice")

	_, err = NewRegistry(&stubJob{name: " "})
	require.Error(t, err)
}

func TestRegistryOnly(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	jobC := &stubJob{name: "c"}
	registry, err := NewRegistry(jobA, jobB, jobC)
	require.NoError(t, err)

	subset, err := registry.Only("c", "a")
	require.NoError(t, err)
	require.Equal(t, []Job{jobA, jobC}, subset.Jobs())

	same, err := registry.Only()
	require.NoError(t, err)
	require.Len(t, same.Jobs(), 3)

	_, err = registry.Only("missing")
	require.ErrorContains(t, err, "unknown cron job")
}
