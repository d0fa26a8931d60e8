package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gglite/corebus"
)

func fakeResolver(name string) func(int32) (string, error) {
	return func(int32) (string, error) { return name, nil }
}

func TestRegisterSameProcessReturnsSameSvcuid(t *testing.T) {
	r := NewRegistry(50, false, nil)

	first, err := r.Register(100, fakeResolver("pubsub"))
	require.NoError(t, err)

	second, err := r.Register(100, fakeResolver("pubsub"))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, r.Len())
}

func TestRegisterDistinctComponentsGetDistinctSvcuids(t *testing.T) {
	r := NewRegistry(50, false, nil)

	a, err := r.Register(1, fakeResolver("pubsub"))
	require.NoError(t, err)
	b, err := r.Register(2, fakeResolver("mqtt"))
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestVerifySvcuidRoundTrip(t *testing.T) {
	r := NewRegistry(50, false, nil)

	svcuid, err := r.Register(42, fakeResolver("config"))
	require.NoError(t, err)

	name, ok := r.VerifySvcuid(svcuid)
	require.True(t, ok)
	require.Equal(t, "config", name)

	_, ok = r.VerifySvcuid("not-a-real-svcuid!!")
	require.False(t, ok)
}

func TestLookupByName(t *testing.T) {
	r := NewRegistry(50, false, nil)

	svcuid, err := r.Register(7, fakeResolver("health"))
	require.NoError(t, err)

	found, ok := r.LookupByName("health")
	require.True(t, ok)
	require.Equal(t, svcuid, found)

	_, ok = r.LookupByName("nonexistent")
	require.False(t, ok)
}

func TestRegisterTableFull(t *testing.T) {
	r := NewRegistry(2, false, nil)

	_, err := r.Register(1, fakeResolver("a"))
	require.NoError(t, err)
	_, err = r.Register(2, fakeResolver("b"))
	require.NoError(t, err)

	_, err = r.Register(3, fakeResolver("c"))
	require.Error(t, err)
	require.True(t, corebus.IsCode(err, corebus.Nomem))
}

func TestRegisterPropagatesResolverFailure(t *testing.T) {
	r := NewRegistry(50, false, nil)

	_, err := r.Register(9, func(int32) (string, error) {
		return "", corebus.NewError("resolve", corebus.Failure, "no unit for pid")
	})
	require.Error(t, err)
}

func TestInsecureModeSelfRegistersByName(t *testing.T) {
	r := NewRegistry(50, true, nil)

	svcuid, err := r.Register(1, fakeResolver("debugcomp"))
	require.NoError(t, err)
	require.Equal(t, "debugcomp", svcuid)

	name, ok := r.VerifySvcuid("debugcomp")
	require.True(t, ok)
	require.Equal(t, "debugcomp", name)

	again, err := r.Register(1, fakeResolver("debugcomp"))
	require.NoError(t, err)
	require.Equal(t, svcuid, again)
}

func TestStripUnitName(t *testing.T) {
	name, err := stripUnitName(1, "ggl.pubsub.service")
	require.NoError(t, err)
	require.Equal(t, "pubsub", name)

	name, err = stripUnitName(1, "ggl.pubsub.install.service")
	require.NoError(t, err)
	require.Equal(t, "pubsub", name)

	_, err = stripUnitName(1, "pubsub.service")
	require.Error(t, err)

	_, err = stripUnitName(1, "ggl.pubsub")
	require.Error(t, err)
}

func TestNewConnectionIDUnique(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	require.NotEqual(t, a, b)
}
