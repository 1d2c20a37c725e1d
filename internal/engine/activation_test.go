package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencache-labs/casctl/internal/casadm"
	"github.com/opencache-labs/casctl/internal/conf"
	"github.com/opencache-labs/casctl/internal/testutil"
)

// fakeGateway records every operation in order and replays configured
// failures, so tests can assert both sequencing and aggregation.
type fakeGateway struct {
	ops []string

	checkStatus map[string]casadm.DeviceStatus
	checkErr    map[string]error
	startErr    map[uint16]error
	configErr   map[uint16]error
	addErr      map[string]error
	stopAllErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		checkStatus: make(map[string]casadm.DeviceStatus),
		checkErr:    make(map[string]error),
		startErr:    make(map[uint16]error),
		configErr:   make(map[uint16]error),
		addErr:      make(map[string]error),
	}
}

func (g *fakeGateway) CheckDevice(_ context.Context, device string) (casadm.DeviceStatus, error) {
	g.ops = append(g.ops, "check "+device)
	if err := g.checkErr[device]; err != nil {
		return casadm.DeviceStatus{}, err
	}
	return g.checkStatus[device], nil
}

func (g *fakeGateway) StartCache(_ context.Context, cache *conf.Cache, load, _ bool) error {
	verb := "start"
	if load {
		verb = "load"
	}
	g.ops = append(g.ops, fmt.Sprintf("%s %d", verb, cache.ID))
	return g.startErr[cache.ID]
}

func (g *fakeGateway) ConfigureCache(_ context.Context, cache *conf.Cache) error {
	g.ops = append(g.ops, fmt.Sprintf("configure %d", cache.ID))
	return g.configErr[cache.ID]
}

func (g *fakeGateway) AddCore(_ context.Context, cacheID uint16, core *conf.Core, _ bool) error {
	g.ops = append(g.ops, "add "+core.Device)
	return g.addErr[core.Device]
}

func (g *fakeGateway) ListCaches(context.Context) ([]casadm.ListedCache, error) {
	g.ops = append(g.ops, "list")
	return nil, nil
}

func (g *fakeGateway) StopCache(_ context.Context, cacheID uint16, _ bool) error {
	g.ops = append(g.ops, fmt.Sprintf("stop %d", cacheID))
	return nil
}

func (g *fakeGateway) StopAll(_ context.Context, flush bool) error {
	g.ops = append(g.ops, fmt.Sprintf("stopall flush=%v", flush))
	return g.stopAllErr
}

// adds returns the add operations in order.
func (g *fakeGateway) adds() []string {
	var adds []string
	for _, op := range g.ops {
		if len(op) > 4 && op[:4] == "add " {
			adds = append(adds, op[4:])
		}
	}
	return adds
}

// indexOf returns the position of op in the recorded sequence, or -1.
func (g *fakeGateway) indexOf(op string) int {
	for i, o := range g.ops {
		if o == op {
			return i
		}
	}
	return -1
}

// stackedConfig is the cache-on-cache topology from the activation design:
// cache 0 on /dev/sdb with core /dev/sdc, cache 1 living on /dev/cas0-0
// (cache 0, core 0) with core /dev/sdd.
func stackedConfig(reversed bool) *conf.Config {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			0: {ID: 0, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
			1: {ID: 1, Device: "/dev/cas0-0", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 0, CoreID: 0, Device: "/dev/sdc"},
			{CacheID: 1, CoreID: 0, Device: "/dev/sdd"},
		},
	}
	if reversed {
		cfg.Cores[0], cfg.Cores[1] = cfg.Cores[1], cfg.Cores[0]
	}
	return cfg
}

func TestInit_StackedTopologyOrder(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		name := "declared order"
		if reversed {
			name = "reversed order"
		}
		t.Run(name, func(t *testing.T) {
			gw := newFakeGateway()
			o := NewOrchestrator(gw, nil, testutil.NewTestLogger(t))

			report, err := o.Init(context.Background(), stackedConfig(reversed), true)
			require.NoError(t, err)
			assert.False(t, report.Failed())

			// Upstream before downstream, regardless of declaration order:
			// cache 0 starts, /dev/sdc attaches, only then cache 1 (which
			// lives on /dev/cas0-0) starts and /dev/sdd attaches.
			start0 := gw.indexOf("start 0")
			addSdc := gw.indexOf("add /dev/sdc")
			start1 := gw.indexOf("start 1")
			addSdd := gw.indexOf("add /dev/sdd")
			require.NotEqual(t, -1, start0)
			require.NotEqual(t, -1, addSdc)
			require.NotEqual(t, -1, start1)
			require.NotEqual(t, -1, addSdd)

			assert.Less(t, start0, addSdc)
			assert.Less(t, addSdc, start1)
			assert.Less(t, start1, addSdd)

			// Each core attaches exactly once.
			assert.Len(t, gw.adds(), 2)
		})
	}
}

func TestInit_SelfReferencingCoreAborts(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			0: {ID: 0, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 0, CoreID: 0, Device: "/dev/cas0-0"},
		},
	}

	gw := newFakeGateway()
	o := NewOrchestrator(gw, nil, nil)

	report, err := o.Init(context.Background(), cfg, true)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "/dev/cas0-0", cycleErr.Device)
	assert.Equal(t, uint16(0), cycleErr.CacheID)

	// No attach call is ever issued for a cyclic topology.
	assert.Empty(t, gw.adds())
	assert.Equal(t, ExitCycle, StatusCode(report, err))
}

func TestInit_TwoCoreCycleAborts(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			0: {ID: 0, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
			1: {ID: 1, Device: "/dev/sdc", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 0, CoreID: 0, Device: "/dev/cas1-0"},
			{CacheID: 1, CoreID: 0, Device: "/dev/cas0-0"},
		},
	}

	gw := newFakeGateway()
	o := NewOrchestrator(gw, nil, nil)

	_, err := o.Init(context.Background(), cfg, true)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Empty(t, gw.adds())
}

func TestInit_CacheDeviceCycleAborts(t *testing.T) {
	// Cache 0 claims to live on its own exported core device.
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			0: {ID: 0, Device: "/dev/cas0-0", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 0, CoreID: 0, Device: "/dev/sdc"},
		},
	}

	gw := newFakeGateway()
	o := NewOrchestrator(gw, nil, nil)

	_, err := o.Init(context.Background(), cfg, true)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Empty(t, gw.adds())
}

func TestActivator_AttachesEachCoreAtMostOnce(t *testing.T) {
	// Two cores stacked on the same upstream, one with a partition suffix.
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
			2: {ID: 2, Device: "/dev/sdc", Mode: conf.ModeWriteThrough, Complete: true},
			3: {ID: 3, Device: "/dev/sdd", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 1, CoreID: 1, Device: "/dev/sde"},
			{CacheID: 2, CoreID: 1, Device: "/dev/cas1-1"},
			{CacheID: 3, CoreID: 1, Device: "/dev/cas1-1p2"},
		},
	}

	gw := newFakeGateway()
	activator := NewActivator(gw, nil, nil)
	report := NewReport()

	require.NoError(t, activator.Run(context.Background(), cfg, report, Options{}))

	adds := gw.adds()
	require.Len(t, adds, 3)
	assert.Equal(t, "/dev/sde", adds[0])
	assert.False(t, report.Failed())
}

func TestActivator_UpstreamFailureStillAttemptsDependent(t *testing.T) {
	// Core 0-1 is stacked directly on core 0-0, whose attach fails.
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			0: {ID: 0, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 0, CoreID: 0, Device: "/dev/sdc"},
			{CacheID: 0, CoreID: 1, Device: "/dev/cas0-0"},
		},
	}

	gw := newFakeGateway()
	gw.addErr["/dev/sdc"] = &casadm.CmdError{Args: []string{"--add-core"}, ExitCode: 5, Stderr: "no space"}
	activator := NewActivator(gw, nil, nil)
	report := NewReport()

	err := activator.Run(context.Background(), cfg, report, Options{})
	require.NoError(t, err)

	// The failed upstream is recorded, the dependent attach is still issued
	// and the gateway arbitrates.
	assert.Contains(t, gw.ops, "add /dev/cas0-0")
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "/dev/sdc", report.Failures()[0].Device)
	assert.Equal(t, ExitPartial, StatusCode(report, nil))
}

func TestActivator_RepeatedRunIsIdempotentPerRun(t *testing.T) {
	cfg := stackedConfig(false)
	gw := newFakeGateway()
	activator := NewActivator(gw, nil, nil)

	// Two consecutive runs model repeated invocations: each run attaches
	// every core exactly once.
	for run := 0; run < 2; run++ {
		require.NoError(t, activator.Run(context.Background(), cfg, NewReport(), Options{TryAdd: true}))
	}
	assert.Len(t, gw.adds(), 4)
}

func TestActivator_UnknownUpstreamTreatedAsIndependent(t *testing.T) {
	// The path matches the exported-device convention but no such pair is
	// declared; the gateway decides.
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 1, CoreID: 1, Device: "/dev/cas9-9"},
		},
	}

	gw := newFakeGateway()
	activator := NewActivator(gw, nil, nil)
	report := NewReport()

	require.NoError(t, activator.Run(context.Background(), cfg, report, Options{}))
	assert.Equal(t, []string{"/dev/cas9-9"}, gw.adds())
}

func TestInit_DirtyDeviceGuard(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 1, CoreID: 1, Device: "/dev/sdc"},
		},
	}

	gw := newFakeGateway()
	gw.checkStatus["/dev/sdb"] = casadm.DeviceStatus{IsCache: true, Dirty: true}
	o := NewOrchestrator(gw, nil, nil)

	report, err := o.Init(context.Background(), cfg, false)
	require.Error(t, err)

	var dirtyErr *DirtyDeviceError
	require.ErrorAs(t, err, &dirtyErr)
	assert.Equal(t, "/dev/sdb", dirtyErr.Device)

	// Guard trips before any start, configure or attach call.
	assert.Equal(t, []string{"check /dev/sdb"}, gw.ops)
	assert.Equal(t, ExitFatal, StatusCode(report, err))
}

func TestInit_ForceSkipsGuard(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
	}

	gw := newFakeGateway()
	gw.checkStatus["/dev/sdb"] = casadm.DeviceStatus{IsCache: true, Dirty: true}
	o := NewOrchestrator(gw, nil, nil)

	report, err := o.Init(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.NotContains(t, gw.ops, "check /dev/sdb")
	assert.Contains(t, gw.ops, "start 1")
}

func TestInit_CleanExistingCacheDoesNotTrip(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
	}

	gw := newFakeGateway()
	gw.checkStatus["/dev/sdb"] = casadm.DeviceStatus{IsCache: true, Dirty: false}
	o := NewOrchestrator(gw, nil, nil)

	_, err := o.Init(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Contains(t, gw.ops, "start 1")
}

func TestInit_StatusQueryFailureIsFatal(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
	}

	gw := newFakeGateway()
	gw.checkErr["/dev/sdb"] = &casadm.CmdError{ExitCode: 2, Stderr: "no such device"}
	o := NewOrchestrator(gw, nil, nil)

	_, err := o.Init(context.Background(), cfg, false)
	require.Error(t, err)
	assert.NotContains(t, gw.ops, "start 1")
}

func TestInit_StartFailuresAggregate(t *testing.T) {
	cfg := &conf.Config{Caches: map[uint16]*conf.Cache{}}
	gw := newFakeGateway()
	for id := uint16(1); id <= 3; id++ {
		cfg.Caches[id] = &conf.Cache{ID: id, Device: fmt.Sprintf("/dev/sd%c", 'a'+id), Mode: conf.ModeWriteThrough, Complete: true}
		gw.startErr[id] = &casadm.CmdError{ExitCode: 1, Stderr: "start failed"}
	}

	o := NewOrchestrator(gw, nil, nil)
	report, err := o.Init(context.Background(), cfg, true)
	require.NoError(t, err)

	// N independent start failures: N diagnostics, partial status, and a
	// failed cache is never configured.
	assert.Len(t, report.Failures(), 3)
	assert.Equal(t, ExitPartial, StatusCode(report, err))
	for id := uint16(1); id <= 3; id++ {
		assert.NotContains(t, gw.ops, fmt.Sprintf("configure %d", id))
	}
}

func TestInit_ConfigureFailureRecordedCoresStillAttach(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb", Mode: conf.ModeWriteThrough, Complete: true},
		},
		Cores: []*conf.Core{
			{CacheID: 1, CoreID: 1, Device: "/dev/sdc"},
		},
	}

	gw := newFakeGateway()
	gw.configErr[1] = &casadm.CmdError{ExitCode: 1, Stderr: "bad param"}
	o := NewOrchestrator(gw, nil, nil)

	report, err := o.Init(context.Background(), cfg, true)
	require.NoError(t, err)

	assert.Len(t, report.Failures(), 1)
	assert.Contains(t, gw.ops, "add /dev/sdc")
}

func TestStart_BestEffortNeverAborts(t *testing.T) {
	cfg := &conf.Config{
		Caches: map[uint16]*conf.Cache{
			1: {ID: 1, Device: "/dev/sdb"},
			2: {ID: 2, Device: "/dev/sdc", Mode: conf.ModeWriteBack, Complete: true},
		},
	}

	gw := newFakeGateway()
	gw.startErr[1] = &casadm.CmdError{ExitCode: 1, Stderr: "metadata mismatch"}
	o := NewOrchestrator(gw, nil, nil)

	report := o.Start(context.Background(), cfg)

	assert.Equal(t, []string{"load 1", "load 2"}, gw.ops)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "/dev/sdb", report.Failures()[0].Device)
}

func TestStop_DelegatesToGateway(t *testing.T) {
	gw := newFakeGateway()
	o := NewOrchestrator(gw, nil, nil)

	require.NoError(t, o.Stop(context.Background(), true))
	assert.Equal(t, []string{"stopall flush=true"}, gw.ops)

	gw.stopAllErr = &casadm.CmdError{ExitCode: 1}
	assert.Error(t, o.Stop(context.Background(), false))
}

func TestStatusCode(t *testing.T) {
	clean := NewReport()
	failed := NewReport()
	failed.Record("/dev/sdc", 1, fmt.Errorf("boom"))

	assert.Equal(t, ExitOK, StatusCode(clean, nil))
	assert.Equal(t, ExitPartial, StatusCode(failed, nil))
	assert.Equal(t, ExitFatal, StatusCode(clean, fmt.Errorf("parse error")))
	// A cycle keeps its own code even when failures were already recorded.
	assert.Equal(t, ExitCycle, StatusCode(failed, &CycleError{Device: "/dev/cas0-0"}))
}
