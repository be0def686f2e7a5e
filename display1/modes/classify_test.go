// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package modes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCatalog(t *testing.T, raws ...RawMode) Catalog {
	catalog, err := NewCatalog(raws)
	require.NoError(t, err)
	return catalog
}

func ids(modes []Mode) []uint32 {
	result := make([]uint32, 0, len(modes))
	for _, mode := range modes {
		result = append(result, mode.Id)
	}
	return result
}

func assertContained(t *testing.T, snap *Snapshot) {
	for _, list := range [][]Mode{snap.Trimmed, snap.HighQuality, snap.List, snap.User} {
		for _, mode := range list {
			assert.True(t, snap.All.Contains(mode), "mode %v not in All", mode)
		}
	}
}

func TestClassifyTrimmedScenario(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Width: 1920, Height: 1080, Rate: 60, Flags: FlagDefault},
		RawMode{Id: 2, Width: 1920, Height: 1080, Rate: 30},
		RawMode{Id: 3, Width: 3840, Height: 2160, Rate: 60, Flags: FlagNative},
	)
	snap := Classify(catalog, 0, ClassifyOptions{})

	assert.Equal(t, []uint32{1, 3}, ids(snap.Trimmed))
	assert.Equal(t, []uint32{1, 3}, ids(snap.User))
	assert.Equal(t, []uint32{2, 1, 3}, ids(snap.List))
	assert.Equal(t, uint32(1), snap.Default.Id)
	assert.Equal(t, uint32(3), snap.Native.Id)
	assert.Equal(t, []float64{30, 60}, snap.ScanRates)
	assert.False(t, snap.HasZeroRate)
	assertContained(t, snap)

	snap = Classify(catalog, CapHasMultipleRates, ClassifyOptions{})
	assert.Equal(t, []uint32{2, 1, 3}, ids(snap.Trimmed))

	snap = Classify(catalog, CapHasMultipleRates, ClassifyOptions{MinUsableRate: 50})
	assert.Equal(t, []uint32{1, 3}, ids(snap.User))
}

func TestClassifyEmpty(t *testing.T) {
	snap := Classify(nil, CapHasTVModes, ClassifyOptions{})
	assert.True(t, snap.Empty())
	assert.Empty(t, snap.Trimmed)
	assert.Empty(t, snap.User)
	assert.Equal(t, 0, snap.UserResolutions.Len())
	assert.True(t, snap.Default.IsZero())
}

func TestClassifyTieBreak(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 5, Width: 1920, Height: 1080, Rate: 60, Depth: 24},
		RawMode{Id: 6, Width: 1920, Height: 1080, Rate: 60, Depth: 30},
		RawMode{Id: 7, Width: 1280, Height: 720, Rate: 60, Depth: 24},
		RawMode{Id: 8, Width: 1280, Height: 720, Rate: 60, Depth: 24, Flags: FlagNative},
		RawMode{Id: 9, Width: 1024, Height: 768, Rate: 60, Depth: 24},
		RawMode{Id: 10, Width: 1024, Height: 768, Rate: 60, Depth: 24},
	)
	snap := Classify(catalog, 0, ClassifyOptions{})
	assert.Equal(t, []uint32{9, 8, 6}, ids(snap.Trimmed))

	assert.Equal(t, []uint32{9, 8, 6}, ids(snap.List))
	assert.Equal(t, []uint32{9, 8, 6}, ids(snap.HighQuality))
	assertContained(t, snap)
}

func TestClassifyTVAndUnsafe(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Width: 1920, Height: 1080, Rate: 60},
		RawMode{Id: 2, Width: 720, Height: 480, Rate: 60, Flags: FlagTVOnly},
		RawMode{Id: 3, Width: 2560, Height: 1440, Rate: 144, Flags: FlagUnsafe},
	)

	snap := Classify(catalog, CapHasSafeMode, ClassifyOptions{})
	assert.Equal(t, []uint32{1}, ids(snap.Trimmed))
	assert.Equal(t, []uint32{1}, ids(snap.HighQuality))

	snap = Classify(catalog, CapHasTVModes, ClassifyOptions{})
	assert.Equal(t, []uint32{1, 3}, ids(snap.Trimmed))
	assert.Equal(t, []uint32{1, 3, 2}, ids(snap.HighQuality))
	assertContained(t, snap)
}

func TestClassifyZeroRate(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Width: 1920, Height: 1080, Rate: 60},
		RawMode{Id: 2, Width: 1280, Height: 720},
	)
	snap := Classify(catalog, 0, ClassifyOptions{MinUsableRate: 50})

	assert.True(t, snap.HasZeroRate)
	assert.Equal(t, []float64{60}, snap.ScanRates)
	assert.Equal(t, []uint32{2, 1}, ids(snap.User))

	group, ok := snap.UserResolutions.Lookup(Resolution{1280, 720})
	require.True(t, ok)
	assert.Empty(t, group.ScanRates)
	_, ok = snap.UserResolutions.ModeFor(Resolution{1280, 720}, 0)
	assert.False(t, ok)
}

func TestClassifyAliasAndInterlaced(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Name: "1920x1080", Width: 1920, Height: 1080, Rate: 60},
		RawMode{Id: 2, Name: "1920x1080", Width: 1920, Height: 1080, Rate: 50, AliasOf: 1},
		RawMode{Id: 3, Name: "1920x1080i", Width: 1920, Height: 1080, Rate: 59.94, Flags: FlagInterlaced},
		RawMode{Id: 4, Name: "1280x720", Width: 1280, Height: 720, Rate: 60, AliasOf: 9},
	)
	snap := Classify(catalog, CapHasMultipleRates, ClassifyOptions{})

	assert.Equal(t, []uint32{4, 2, 3, 1}, ids(snap.Trimmed))
	assert.Equal(t, []uint32{4, 3, 1}, ids(snap.User))
	assert.Equal(t, []uint32{4, 2, 1}, ids(snap.List))

	snap = Classify(catalog, CapHasMultipleRates, ClassifyOptions{CurrentModeId: 3})
	assert.Equal(t, []uint32{4, 2, 3, 1}, ids(snap.List))
	assert.Equal(t, []uint32{4, 2, 1}, ids(snap.HighQuality))
}

func TestClassifyDeterministic(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Width: 1920, Height: 1080, Rate: 60},
		RawMode{Id: 2, Width: 1920, Height: 1080, Rate: 59.94},
		RawMode{Id: 3, Width: 1280, Height: 1024, Rate: 75},
	)
	s1 := Classify(catalog, CapHasMultipleRates, ClassifyOptions{})
	s2 := Classify(catalog, CapHasMultipleRates, ClassifyOptions{})
	assert.Equal(t, s1, s2)

	s3 := s1.WithResolutions(7)
	assert.Equal(t, uint64(7), s3.Version)
	assert.True(t, s1.UserResolutions.Equal(s3.UserResolutions))
	assert.True(t, s1.TrimmedResolutions.Equal(s3.TrimmedResolutions))
}

func TestClassifyHighQualityDepth(t *testing.T) {
	catalog := mustCatalog(t,
		RawMode{Id: 1, Width: 1920, Height: 1080, Rate: 60, Depth: 24},
		RawMode{Id: 2, Width: 1920, Height: 1080, Rate: 30, Depth: 30},
	)
	snap := Classify(catalog, CapHasMultipleRates, ClassifyOptions{})
	assert.Equal(t, []uint32{2, 1}, ids(snap.List))
	// 只保留每个分辨率最高色深的模式
	assert.Equal(t, []uint32{2}, ids(snap.HighQuality))
}
