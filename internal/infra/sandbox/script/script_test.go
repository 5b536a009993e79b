package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, src string, globals map[string]Value) Value {
	t.Helper()
	expr, err := ParseProgram(src)
	require.NoError(t, err)

	root := NewScope(nil)
	for name, v := range globals {
		root.Declare(name, v)
	}

	interp := NewInterp(context.Background())
	v, err := interp.Run(expr, root)
	require.NoError(t, err)
	return v
}

func TestRunArithmeticAndComparison(t *testing.T) {
	v := run(t, `async () => (2 + 3) * 4 > 10`, nil)
	require.Equal(t, true, v)
}

func TestRunObjectAndArrayLiterals(t *testing.T) {
	v := run(t, `async () => ({ count: 2, items: [1, 2, 3] })`, nil)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 2, m["count"])
	items, ok := m["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 3)
}

func TestRunVarDeclAndReturn(t *testing.T) {
	v := run(t, `async () => {
		const a = 1;
		let b = a + 1;
		return b * 10;
	}`, nil)
	require.EqualValues(t, 20, v)
}

func TestRunAwaitsAlreadyResolvedPromise(t *testing.T) {
	v := run(t, `async () => {
		const p = new Promise((resolve) => resolve(42));
		return await p;
	}`, nil)
	require.EqualValues(t, 42, v)
}

func TestRunCallsHostFunctionBridge(t *testing.T) {
	var seenArgs []Value
	host := &Function{Host: func(args []Value) (Value, error) {
		seenArgs = args
		return "from-host", nil
	}}

	v := run(t, `async () => {
		return await greet("world");
	}`, map[string]Value{"greet": host})

	require.Equal(t, "from-host", v)
	require.Equal(t, []Value{"world"}, seenArgs)
}

func TestRunRejectsNonCallableTopLevelExpression(t *testing.T) {
	expr, err := ParseProgram(`1 + 1`)
	require.NoError(t, err)

	interp := NewInterp(context.Background())
	_, err = interp.Run(expr, NewScope(nil))
	require.Error(t, err)
}

func TestRunHonorsContextCancellationBeforeCall(t *testing.T) {
	expr, err := ParseProgram(`async () => 1`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	interp := NewInterp(ctx)
	_, err = interp.Run(expr, NewScope(nil))
	require.Error(t, err)
}
