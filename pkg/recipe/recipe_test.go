package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarteye/smarteye/pkg/calibration"
)

func builtinA(t *testing.T) Recipe {
	t.Helper()
	c, err := NewCatalog("")
	require.NoError(t, err)
	r, err := c.Get("A")
	require.NoError(t, err)
	return r
}

func TestBuiltinRecipes(t *testing.T) {
	c, err := NewCatalog("")
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{list[0].Name, list[1].Name, list[2].Name})
	for _, r := range list {
		assert.NoError(t, r.Validate())
		assert.Equal(t, 75.0, r.Refs["fov"]["exp"])
	}

	_, err = c.Get("Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompare(t *testing.T) {
	r := builtinA(t)

	tests := []struct {
		name     string
		step     string
		status   calibration.Status
		failed   []string
		wantCur  []float64
		wantVerd []calibration.Status
	}{
		{
			name:     "fov pass",
			step:     "fov",
			status:   calibration.StatusPass,
			wantCur:  []float64{8, 3},
			wantVerd: []calibration.Status{calibration.StatusPass, calibration.StatusPass},
		},
		{
			name:     "fov fail on y",
			step:     "fov",
			status:   calibration.StatusFail,
			failed:   []string{"y"},
			wantCur:  []float64{8, 18},
			wantVerd: []calibration.Status{calibration.StatusPass, calibration.StatusFail},
		},
		{
			name:     "clarity fail",
			step:     "clarity",
			status:   calibration.StatusFail,
			failed:   []string{"clarity"},
			wantCur:  []float64{72},
			wantVerd: []calibration.Status{calibration.StatusFail},
		},
		{
			name:     "brightness foreground drags difference",
			step:     "brightness",
			status:   calibration.StatusFail,
			failed:   []string{"fBright"},
			wantCur:  []float64{142.0, 68.5, 73.5},
			wantVerd: []calibration.Status{calibration.StatusFail, calibration.StatusPass, calibration.StatusFail},
		},
		{
			name:     "white balance gray and channel",
			step:     "wb",
			status:   calibration.StatusFail,
			failed:   []string{"gray", "wb"},
			wantCur:  []float64{125.5, 121.0, 980, 575, 985},
			wantVerd: []calibration.Status{calibration.StatusPass, calibration.StatusFail, calibration.StatusFail, calibration.StatusPass, calibration.StatusPass},
		},
		{
			name:     "pass ignores stale detail",
			step:     "clarity",
			status:   calibration.StatusPass,
			failed:   []string{"clarity"},
			wantCur:  []float64{83},
			wantVerd: []calibration.Status{calibration.StatusPass},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := Compare(r, tt.step, tt.status, tt.failed)
			require.Len(t, rows, len(tt.wantCur))
			for i, row := range rows {
				assert.Equal(t, tt.wantCur[i], row.Cur, row.Key)
				assert.Equal(t, tt.wantVerd[i], row.Verdict, row.Key)
				assert.InDelta(t, row.Cur-row.Std, row.Diff, 0.05, row.Key)
			}
		})
	}
}

func TestComparePendingHasNoReading(t *testing.T) {
	rows := Compare(builtinA(t), "wb", calibration.StatusPending, nil)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, calibration.StatusPending, row.Verdict)
		assert.Zero(t, row.Cur)
	}
}

const diskRecipe = `
recipes:
  - name: A
    description: site override
    metrics:
      fov: [{key: offsetX, label: X, std: 0, threshold: 4, nominal: 1, deviant: 9, failsWith: [x]}]
      clarity: [{key: score, label: Score, std: 90, threshold: 5, nominal: 89, deviant: 70, failsWith: [clarity]}]
      brightness: [{key: foreground, label: FG, std: 150, threshold: 10, nominal: 151, deviant: 120, failsWith: [fBright]}]
      wb: [{key: r, label: R, std: 1000, threshold: 20, nominal: 1001, deviant: 900, failsWith: [wb]}]
  - name: D
    metrics:
      fov: [{key: offsetX, label: X, std: 0, threshold: 4}]
      clarity: [{key: score, label: Score, std: 90, threshold: 5}]
      brightness: [{key: foreground, label: FG, std: 150, threshold: 10}]
      wb: [{key: r, label: R, std: 1000, threshold: 20}]
`

func TestCatalogOverlaysDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.yaml"), []byte(diskRecipe), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	c, err := NewCatalog(dir)
	require.NoError(t, err)
	assert.Len(t, c.List(), 4)

	a, err := c.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "site override", a.Description)
	assert.Equal(t, 90.0, a.Metrics["clarity"][0].Std)
}

func TestCatalogRejectsIncompleteRecipe(t *testing.T) {
	dir := t.TempDir()
	bad := "recipes:\n  - name: E\n    metrics:\n      fov: [{key: offsetX, std: 0, threshold: 1}]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte(bad), 0644))

	_, err := NewCatalog(dir)
	assert.Error(t, err)

	_, err = NewCatalog(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestResolveSave(t *testing.T) {
	tests := []struct {
		name       string
		req        SaveRequest
		wantTarget string
		wantErr    bool
	}{
		{name: "overwrite", req: SaveRequest{Mode: SaveOverwrite, Name: "ignored"}, wantTarget: "config1"},
		{name: "new with name", req: SaveRequest{Mode: SaveNew, Name: " line-7 "}, wantTarget: "line-7"},
		{name: "new default name", req: SaveRequest{Mode: SaveNew}, wantTarget: "config2"},
		{name: "path in name", req: SaveRequest{Mode: SaveNew, Name: "../x"}, wantErr: true},
		{name: "unknown mode", req: SaveRequest{Mode: "append"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := ResolveSave(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTarget, ack.Target)
			assert.Contains(t, ack.Message, tt.wantTarget)
		})
	}
}
