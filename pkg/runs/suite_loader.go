// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/meta"
)

// suiteDocument is the on-disk YAML shape for a seeded suite.
type suiteDocument struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Owner       string          `yaml:"owner"`
	Visibility  string          `yaml:"visibility"`
	Tests       []suiteTestSpec `yaml:"tests"`
}

type suiteTestSpec struct {
	Name              string         `yaml:"name"`
	Prompt            string         `yaml:"prompt"`
	Type              string         `yaml:"type"`
	TemplateRef       string         `yaml:"templateRef"`
	ImpersonateUserID *string        `yaml:"impersonateUserId"`
	ExpectedOutput    map[string]any `yaml:"expectedOutput"`
}

// SuiteLoader seeds test suites from YAML files and keeps them in sync with
// the directory while the server runs. Loading is additive: existing tests
// keep their stored definition, new tests in a file are registered.
type SuiteLoader struct {
	dir     string
	manager *TestManager
	suites  *meta.SuiteStore

	watcher *fsnotify.Watcher

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSuiteLoader creates a loader for the given directory.
func NewSuiteLoader(dir string, manager *TestManager, suites *meta.SuiteStore) *SuiteLoader {
	return &SuiteLoader{
		dir:            dir,
		manager:        manager,
		suites:         suites,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// LoadAll loads every suite file in the directory once.
func (l *SuiteLoader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read suites directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isSuiteFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(ctx, path); err != nil {
			log.Warn("failed to load suite file",
				zap.String("file", path),
				zap.Error(err))
		}
	}
	return nil
}

// Watch starts watching the directory and reloading changed files until
// Stop is called or the context ends.
func (l *SuiteLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close() //nolint:errcheck
		return fmt.Errorf("failed to watch suites directory: %w", err)
	}
	l.watcher = watcher

	log.Info("suite loader watching", zap.String("dir", l.dir))
	go l.watchLoop(ctx)
	return nil
}

// Stop halts the watcher.
func (l *SuiteLoader) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.watcher != nil {
			<-l.doneCh
			l.watcher.Close() //nolint:errcheck
		}
	})
}

func (l *SuiteLoader) watchLoop(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(ctx, event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Error("suite watcher error", zap.Error(err))
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *SuiteLoader) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isSuiteFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	// Editors fire bursts of writes; settle before reloading.
	l.debounce(event.Name, func() {
		if err := l.loadFile(ctx, event.Name); err != nil {
			log.Warn("failed to reload suite file",
				zap.String("file", event.Name),
				zap.Error(err))
			return
		}
		log.Info("suite file reloaded", zap.String("file", event.Name))
	})
}

func (l *SuiteLoader) debounce(key string, fn func()) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()

	if timer, ok := l.debounceTimers[key]; ok {
		timer.Stop()
	}
	l.debounceTimers[key] = time.AfterFunc(500*time.Millisecond, func() {
		fn()
		l.debounceMu.Lock()
		delete(l.debounceTimers, key)
		l.debounceMu.Unlock()
	})
}

// loadFile upserts one suite document: the suite row is created when
// missing, and tests not yet in the suite are compiled and linked.
func (l *SuiteLoader) loadFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read suite file: %w", err)
	}
	var doc suiteDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse suite file: %w", err)
	}
	if doc.Name == "" {
		return fmt.Errorf("suite file %s has no name", filepath.Base(path))
	}
	if doc.Visibility == "" {
		doc.Visibility = meta.VisibilityPublic
	}
	if doc.Owner == "" {
		doc.Owner = "system"
	}

	suite, err := l.suites.FindByName(ctx, doc.Name)
	if err != nil {
		return err
	}
	if suite == nil {
		suite = &meta.TestSuite{
			Name:        doc.Name,
			Description: doc.Description,
			Owner:       doc.Owner,
			Visibility:  doc.Visibility,
		}
		if err := l.suites.Insert(ctx, suite); err != nil {
			return err
		}
	}

	existing, err := l.suites.TestsForSuite(ctx, suite.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t.Name] = true
	}

	added := 0
	for _, ts := range doc.Tests {
		if known[ts.Name] {
			continue
		}
		expected, err := json.Marshal(ts.ExpectedOutput)
		if err != nil {
			return fmt.Errorf("failed to encode expectation for test %s: %w", ts.Name, err)
		}
		test, err := l.manager.AddTest(ctx, TestSpec{
			Name:              ts.Name,
			Prompt:            ts.Prompt,
			Type:              ts.Type,
			ExpectedOutput:    expected,
			TemplateRef:       ts.TemplateRef,
			ImpersonateUserID: ts.ImpersonateUserID,
		})
		if err != nil {
			return fmt.Errorf("failed to register test %s: %w", ts.Name, err)
		}
		if err := l.suites.AddTest(ctx, suite.ID, test.ID); err != nil {
			return err
		}
		added++
	}
	if added > 0 {
		log.Info("suite loaded",
			zap.String("suite", doc.Name),
			zap.Int("tests_added", added))
	}
	return nil
}

func isSuiteFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.Contains(base, "~") {
		return false
	}
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
}
