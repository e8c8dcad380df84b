// internal/devices/catalog_test.go
package devices_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qjob/internal/apitest"
	"qjob/internal/auth"
	"qjob/internal/devices"
	"qjob/pkg/transport"
)

func testCatalog(t *testing.T, srv *apitest.Server, ttl time.Duration) *devices.Catalog {
	t.Helper()
	api := transport.New(srv.URL(), 5*time.Second, nil)
	a := auth.NewWithTokens(auth.Options{
		Username: "user@example.com",
		API:      api,
	}, srv.IDToken, srv.RefreshToken)
	return devices.NewCatalog(api, a, ttl, nil)
}

func TestListDecodesCatalog(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.Machines = []map[string]any{apitest.MachineInfo("H9-27")}

	list, err := testCatalog(t, srv, time.Minute).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	d := list[0]
	require.Equal(t, "H9-27", d.Name)
	require.Equal(t, 20, d.NQubits)
	require.Equal(t, 120, d.NClassicalRegisters)
	require.Equal(t, 10000, d.MaxShots)
	require.Equal(t, "hardware", d.SystemType)
	require.Equal(t, "H9-27E", d.Emulator)
	require.Equal(t, "H9-27SC", d.SyntaxChecker)
	require.True(t, d.Batching)
	require.True(t, d.Wasm)
}

func TestCatalogCachesAndInvalidates(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	c := testCatalog(t, srv, time.Minute)

	_, err := c.List(context.Background())
	require.NoError(t, err)
	_, err = c.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, srv.MachineCalls())

	c.Invalidate()
	_, err = c.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, srv.MachineCalls())
}

func TestListCopiesOutOfCache(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.Machines = []map[string]any{apitest.MachineInfo("H9-27")}
	c := testCatalog(t, srv, time.Minute)

	first, err := c.List(context.Background())
	require.NoError(t, err)
	first[0].Name = "scribbled"

	second, err := c.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, "H9-27", second[0].Name)
	require.Equal(t, 1, srv.MachineCalls())
}

func TestCanBatchFamilyVersusConcrete(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.Machines = apitest.MachineFamily("H1", "1", "2")
	c := testCatalog(t, srv, time.Minute)

	ok, err := c.CanBatch(context.Background(), "H1")
	require.NoError(t, err)
	require.False(t, ok, "bare family name must not take batch params")

	for _, name := range []string{"H1-1", "H1-2"} {
		ok, err := c.CanBatch(context.Background(), name)
		require.NoError(t, err)
		require.True(t, ok, name)
	}
}

func TestCanBatchWithoutCapability(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	m := apitest.MachineInfo("H2-1")
	m["batching"] = false
	srv.Machines = []map[string]any{m}

	ok, err := testCatalog(t, srv, time.Minute).CanBatch(context.Background(), "H2-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanBatchNestedCapabilityMap(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	m := apitest.MachineInfo("H3-1")
	delete(m, "batching")
	m["capabilities"] = map[string]any{"batching": true}
	srv.Machines = []map[string]any{m}

	ok, err := testCatalog(t, srv, time.Minute).CanBatch(context.Background(), "H3-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolveUnknownDevice(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)

	_, err := testCatalog(t, srv, time.Minute).Resolve(context.Background(), "no-such-machine")
	var cfgErr *auth.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
