package devstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/devstate"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
)

func newTable(t *testing.T, opts ...devstate.Option) (*devstate.Table, *hardware.Mock) {
	t.Helper()
	gw := hardware.NewMock()
	return devstate.New(catalog.MustBuiltin("reference"), gw, opts...), gw
}

func TestEnableIsRefcounted(t *testing.T) {
	tbl, gw := newTable(t)
	ctx := context.Background()

	out, err := tbl.Enable(ctx, catalog.Speaker)
	require.NoError(t, err)
	assert.True(t, out.Transitioned)

	out, err = tbl.Enable(ctx, catalog.Speaker)
	require.NoError(t, err)
	assert.False(t, out.Transitioned)
	assert.Equal(t, 2, tbl.Count(catalog.Speaker))
	assert.Equal(t, 1, gw.CountCalls(hardware.OpEnable, catalog.Speaker))

	out, err = tbl.Disable(ctx, catalog.Speaker)
	require.NoError(t, err)
	assert.False(t, out.Transitioned)
	assert.True(t, gw.IsEnabled(catalog.Speaker))

	out, err = tbl.Disable(ctx, catalog.Speaker)
	require.NoError(t, err)
	assert.True(t, out.Transitioned)
	assert.False(t, gw.IsEnabled(catalog.Speaker))
	assert.False(t, tbl.IsEnabled(catalog.Speaker))
	assert.Equal(t, 1, gw.CountCalls(hardware.OpDisable, catalog.Speaker))
}

func TestEnableUnknownRoute(t *testing.T) {
	tbl, _ := newTable(t)
	_, err := tbl.Enable(context.Background(), "no-such-route")
	assert.True(t, models.HasCode(err, models.CodeInvalidArgument))
	assert.Zero(t, tbl.Count("no-such-route"))
}

func TestCompositeSplitsIntoMembers(t *testing.T) {
	tbl, gw := newTable(t)
	ctx := context.Background()

	_, err := tbl.Enable(ctx, catalog.Speaker)
	require.NoError(t, err)
	_, err = tbl.Enable(ctx, catalog.SpeakerAndHeadphones)
	require.NoError(t, err)

	assert.Equal(t, 1, tbl.Count(catalog.SpeakerAndHeadphones))
	assert.Equal(t, 2, tbl.Count(catalog.Speaker))
	assert.Equal(t, 1, tbl.Count(catalog.Headphones))
	assert.False(t, gw.IsEnabled(catalog.SpeakerAndHeadphones), "composite must never reach the gateway")
	assert.Equal(t, 1, gw.CountCalls(hardware.OpEnable, catalog.Speaker))

	// A second reference on an active composite does not re-split.
	_, err = tbl.Enable(ctx, catalog.SpeakerAndHeadphones)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Count(catalog.Speaker))
	assert.Equal(t, 1, tbl.Count(catalog.Headphones))

	for i := 0; i < 2; i++ {
		_, err = tbl.Disable(ctx, catalog.SpeakerAndHeadphones)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tbl.Count(catalog.Speaker))
	assert.Zero(t, tbl.Count(catalog.Headphones))
	assert.True(t, gw.IsEnabled(catalog.Speaker))
	assert.False(t, gw.IsEnabled(catalog.Headphones))
}

func TestCompositeEnabledDirectly(t *testing.T) {
	tbl, gw := newTable(t)
	gw.SetDirect(catalog.SpeakerAndHDMI, true)
	ctx := context.Background()

	_, err := tbl.Enable(ctx, catalog.SpeakerAndHDMI)
	require.NoError(t, err)
	assert.True(t, gw.IsEnabled(catalog.SpeakerAndHDMI))
	assert.Zero(t, tbl.Count(catalog.Speaker))
	assert.Zero(t, tbl.Count(catalog.HDMI))

	active := tbl.ActiveByBackend()
	assert.Equal(t, []models.RouteID{catalog.SpeakerAndHDMI}, active[catalog.BackendCodecRx])
	assert.Equal(t, []models.RouteID{catalog.SpeakerAndHDMI}, active[catalog.BackendHDMIRx])

	_, err = tbl.Disable(ctx, catalog.SpeakerAndHDMI)
	require.NoError(t, err)
	assert.False(t, gw.IsEnabled(catalog.SpeakerAndHDMI))
}

func TestFailedEnableRollsBack(t *testing.T) {
	tbl, gw := newTable(t)
	gw.SetFailEnable(catalog.Headphones, true)
	ctx := context.Background()

	_, err := tbl.Enable(ctx, catalog.SpeakerAndHeadphones)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeIO))
	assert.Zero(t, tbl.Count(catalog.SpeakerAndHeadphones))
	assert.Zero(t, tbl.Count(catalog.Speaker))
	assert.Zero(t, tbl.Count(catalog.Headphones))
	assert.Empty(t, gw.Enabled(), "no member may stay enabled after a failed composite enable")
}

func TestUnderflowStrictPanics(t *testing.T) {
	tbl, _ := newTable(t)
	assert.Panics(t, func() {
		_, _ = tbl.Disable(context.Background(), catalog.Handset)
	})
}

func TestUnderflowLenientReports(t *testing.T) {
	tbl, gw := newTable(t, devstate.Lenient())
	_, err := tbl.Disable(context.Background(), catalog.Handset)

	var uf *devstate.UnderflowError
	require.True(t, errors.As(err, &uf))
	assert.Equal(t, catalog.Handset, uf.Route)
	assert.True(t, errors.Is(err, &models.AppError{Code: models.CodeRefcountUnderflow}))
	assert.Zero(t, tbl.Count(catalog.Handset))
	assert.Empty(t, gw.Calls())
}

func TestTransitionHook(t *testing.T) {
	var edges []string
	tbl, _ := newTable(t, devstate.WithTransitionHook(func(id models.RouteID, on bool) {
		if on {
			edges = append(edges, "+"+string(id))
		} else {
			edges = append(edges, "-"+string(id))
		}
	}))
	ctx := context.Background()
	_, _ = tbl.Enable(ctx, catalog.SpeakerAndLine)
	_, _ = tbl.Disable(ctx, catalog.SpeakerAndLine)
	assert.Equal(t, []string{"+speaker", "+line", "-speaker", "-line"}, edges)
}

// A device shared by a composite and a direct session stays up until both
// have released it; only its composite partner goes down first.
func TestSharedMemberSurvivesCompositeRelease(t *testing.T) {
	tbl, gw := newTable(t)
	ctx := context.Background()

	_, err := tbl.Enable(ctx, catalog.SpeakerAndHeadphones)
	require.NoError(t, err)
	_, err = tbl.Enable(ctx, catalog.Speaker)
	require.NoError(t, err)
	_, err = tbl.Disable(ctx, catalog.SpeakerAndHeadphones)
	require.NoError(t, err)

	assert.True(t, gw.IsEnabled(catalog.Speaker))
	assert.False(t, gw.IsEnabled(catalog.Headphones))
	assert.Equal(t, map[models.RouteID]int{catalog.Speaker: 1}, tbl.Snapshot())
}

func TestCheckExclusive(t *testing.T) {
	tbl, _ := newTable(t)
	ctx := context.Background()

	_, err := tbl.Enable(ctx, catalog.Speaker)
	require.NoError(t, err)
	_, err = tbl.Enable(ctx, catalog.Headphones)
	require.NoError(t, err)
	assert.NoError(t, tbl.CheckExclusive(), "speaker and headphones sit on different lanes")

	_, err = tbl.Enable(ctx, catalog.Handset)
	require.NoError(t, err)
	err = tbl.CheckExclusive()
	assert.True(t, models.HasCode(err, models.CodeInconsistentState))

	devs := tbl.Devices()
	require.Len(t, devs, 3)
	assert.Equal(t, catalog.Handset, devs[0].Route)
	assert.Equal(t, catalog.BackendCodecRx, devs[0].Backend)
}
