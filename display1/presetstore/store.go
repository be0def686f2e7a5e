// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package presetstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/linuxdeepin/go-lib/log"
	"gopkg.in/yaml.v3"
)

var logger = log.NewLogger("daemon/display/presetstore")

// Preset 是一组可以一次性应用的模式、亮度和方向。
type Preset struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
	// 模式 id 在重新插拔后可能变化，此时按尺寸和刷新率匹配
	ModeId      uint32  `yaml:"mode_id"`
	Width       uint16  `yaml:"width"`
	Height      uint16  `yaml:"height"`
	Rate        float64 `yaml:"rate"`
	Brightness  float64 `yaml:"brightness"`
	Orientation uint16  `yaml:"orientation"`
	Default     bool    `yaml:"default,omitempty"`
}

type fileContent struct {
	Version string              `yaml:"version"`
	Presets map[string][]Preset `yaml:"presets"`
}

const fileVersion = "1.0"

var ErrNotLoaded = errors.New("preset store not loaded")

// Store 把预设保存在一个 yaml 文件中，以显示器 uuid 为键。
type Store struct {
	filename string

	mu       sync.Mutex
	content  *fileContent
	watcher  *fsnotify.Watcher
	onChange func()
}

func New(filename string) *Store {
	return &Store{filename: filename}
}

func (s *Store) Filename() string {
	return s.filename
}

// Load 读取文件，文件不存在时得到空的存储。
func (s *Store) Load() error {
	content, err := readFile(s.filename)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.content = content
	s.mu.Unlock()
	return nil
}

func readFile(filename string) (*fileContent, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileContent{Version: fileVersion, Presets: make(map[string][]Preset)}, nil
		}
		return nil, err
	}
	var content fileContent
	err = yaml.Unmarshal(data, &content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	if content.Presets == nil {
		content.Presets = make(map[string][]Preset)
	}
	return &content, nil
}

// LoadPresets 返回按 Index 排序的预设副本。
func (s *Store) LoadPresets(key string) ([]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content == nil {
		return nil, ErrNotLoaded
	}
	presets := append([]Preset(nil), s.content.Presets[key]...)
	sort.SliceStable(presets, func(i, j int) bool {
		return presets[i].Index < presets[j].Index
	})
	return presets, nil
}

// SavePreset 按 Index 替换或追加预设并写回文件。
func (s *Store) SavePreset(key string, preset Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content == nil {
		return ErrNotLoaded
	}
	presets := s.content.Presets[key]
	replaced := false
	for i := range presets {
		if presets[i].Index == preset.Index {
			presets[i] = preset
			replaced = true
			break
		}
	}
	if !replaced {
		presets = append(presets, preset)
	}
	if preset.Default {
		for i := range presets {
			if presets[i].Index != preset.Index {
				presets[i].Default = false
			}
		}
	}
	s.content.Presets[key] = presets
	return s.saveNoLock()
}

func (s *Store) saveNoLock() error {
	s.content.Version = fileVersion
	data, err := yaml.Marshal(s.content)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.filename)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	tmp := s.filename + ".tmp"
	err = os.WriteFile(tmp, data, 0644)
	if err != nil {
		return err
	}
	return os.Rename(tmp, s.filename)
}

// Watch 在文件被外部修改后重新加载，并调用 onChange。
func (s *Store) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.filename)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		watcher.Close()
		return err
	}
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.filename) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("preset file changed:", ev)
			err := s.Load()
			if err != nil {
				logger.Warning("reload presets failed:", err)
				continue
			}
			s.mu.Lock()
			onChange := s.onChange
			s.mu.Unlock()
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warning(err)
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
