package taskgrid_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgrid"
)

// echoRegistry registers a kind that accepts any arguments and returns them.
func echoRegistry() *taskgrid.Registry {
	reg := taskgrid.NewRegistry()
	reg.MustRegister(taskgrid.Kind{
		Name: "Echo",
		New: func(args []any) (taskgrid.Task, error) {
			return &funcTask{
				compute: func(ctx context.Context, tc *taskgrid.TaskContext, in taskgrid.Inputs) (any, error) {
					return len(args), nil
				},
			}, nil
		},
	})
	return reg
}

func TestCycleDetection(t *testing.T) {
	reg := taskgrid.NewRegistry()
	reg.MustRegister(taskgrid.Kind{
		Name: "Loop",
		New: func(args []any) (taskgrid.Task, error) {
			next := (argInt(args[0]) + 1) % 3
			return &funcTask{
				requires: map[string]taskgrid.Future{"next": taskgrid.NewTask("Loop", next)},
				compute: func(ctx context.Context, tc *taskgrid.TaskContext, in taskgrid.Inputs) (any, error) {
					return nil, nil
				},
			}, nil
		},
	})
	runner := newRunner(t, reg)

	_, _, err := runner.Run(context.Background(), taskgrid.NewTask("Loop", 0))
	var cycle *taskgrid.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.GreaterOrEqual(t, len(cycle.Path), 2)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
}

func TestInvalidArgumentsAbortConstruction(t *testing.T) {
	runner := newRunner(t, echoRegistry())
	ctx := context.Background()

	cases := map[string]any{
		"channel":       make(chan int),
		"function":      func() {},
		"untagged type": struct{ A int }{A: 1},
		"nested bad":    []any{1, []any{make(chan int)}},
	}
	for name, arg := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := runner.Run(ctx, taskgrid.NewTask("Echo", arg))
			var invalid *taskgrid.InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "Echo", invalid.TaskType)
		})
	}
}

func TestConstValueMustBeEncodable(t *testing.T) {
	runner := newRunner(t, echoRegistry())
	_, _, err := runner.Run(context.Background(), taskgrid.Const(make(chan int)))
	var invalid *taskgrid.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestArgumentNormalizationSharesNodes(t *testing.T) {
	runner := newRunner(t, echoRegistry())
	ctx := context.Background()

	// Equivalent numeric spellings canonicalize to the same task instance.
	_, stats, err := runner.Run(ctx, taskgrid.List(
		taskgrid.NewTask("Echo", 1, "a"),
		taskgrid.NewTask("Echo", int64(1), "a"),
		taskgrid.NewTask("Echo", float64(1), "a"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Executed)
}

func TestDistinctArgumentsDistinctNodes(t *testing.T) {
	runner := newRunner(t, echoRegistry())
	ctx := context.Background()

	_, stats, err := runner.Run(ctx, taskgrid.List(
		taskgrid.NewTask("Echo", 1),
		taskgrid.NewTask("Echo", 2),
		taskgrid.NewTask("Echo", "1"),
		taskgrid.NewTask("Echo", []any{1}),
	))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Executed)
}

func TestFutureArgumentsContributeIdentityNotValue(t *testing.T) {
	runner := newRunner(t, echoRegistry())
	ctx := context.Background()

	// The same downstream args over different upstream references are
	// different instances, even before anything has executed.
	_, stats, err := runner.Run(ctx, taskgrid.List(
		taskgrid.NewTask("Echo", taskgrid.NewTask("Echo", 1)),
		taskgrid.NewTask("Echo", taskgrid.NewTask("Echo", 2)),
	))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Executed)
}

func TestRegistryValidation(t *testing.T) {
	reg := taskgrid.NewRegistry()
	assert.Error(t, reg.Register(taskgrid.Kind{Name: ""}))
	assert.Error(t, reg.Register(taskgrid.Kind{Name: "NoCtor"}))

	k := taskgrid.Kind{Name: "Dup", New: func(args []any) (taskgrid.Task, error) { return nil, nil }}
	require.NoError(t, reg.Register(k))
	assert.Error(t, reg.Register(k))
	assert.Panics(t, func() { reg.MustRegister(k) })
}
