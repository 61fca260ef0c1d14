// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package undo

import (
	"errors"
	"sync"
)

// DefaultHistoryLimit bounds how many user actions the stacks retain.
const DefaultHistoryLimit = 100

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrHistoryDisabled is returned while the coordinator has detected
	// state that would make replay unsafe.
	ErrHistoryDisabled = errors.New("undo history disabled")
	ErrOpenGroup       = errors.New("undo group still open")
)

// Manager holds the undo and redo stacks for one document. It only stores
// and hands out commands; applying them is the Coordinator's job. There
// can be more than one Manager alive when the user keeps sub-view
// histories separate, but a given row must only ever be recorded into one
// of them.
type Manager struct {
	mu       sync.Mutex
	undo     []Command
	redo     []Command
	group    []Command
	grouping bool
	disabled bool
	limit    int
}

func NewManager(limit int) *Manager {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Manager{limit: limit}
}

// Record pushes a completed forward command. Any redo history is
// invalidated: redoing across an unrelated edit would replay against rows
// that no longer match. Inside an open group the command is collected
// instead of pushed.
func (m *Manager) Record(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return
	}

	if m.grouping {
		m.group = append(m.group, cmd)
		return
	}

	m.push(cmd)
	m.redo = nil
}

func (m *Manager) push(cmd Command) {
	m.undo = append(m.undo, cmd)
	if len(m.undo) > m.limit {
		m.undo = m.undo[len(m.undo)-m.limit:]
	}
}

// BeginGroup starts collecting commands into one grouped action, so a
// paste of N rows undoes as a single step.
func (m *Manager) BeginGroup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grouping = true
	m.group = nil
}

// EndGroup closes the group and records it as one batch command. An empty
// group records nothing.
func (m *Manager) EndGroup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.grouping {
		return
	}
	m.grouping = false
	if len(m.group) == 0 {
		return
	}
	m.push(Command{Kind: KindBatch, Commands: m.group})
	m.group = nil
	m.redo = nil
}

// PopUndo hands out the most recent command and moves it to the redo
// stack. The caller applies the command's inverse; on failure it must call
// Disable or Clear rather than push anything back.
func (m *Manager) PopUndo() (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return Command{}, ErrHistoryDisabled
	}
	if m.grouping {
		return Command{}, ErrOpenGroup
	}
	if len(m.undo) == 0 {
		return Command{}, ErrNothingToUndo
	}
	cmd := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, cmd)
	return cmd, nil
}

// PopRedo hands out the most recently undone command and moves it back to
// the undo stack. The caller applies it forward.
func (m *Manager) PopRedo() (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return Command{}, ErrHistoryDisabled
	}
	if m.grouping {
		return Command{}, ErrOpenGroup
	}
	if len(m.redo) == 0 {
		return Command{}, ErrNothingToRedo
	}
	cmd := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, cmd)
	return cmd, nil
}

// CanUndo reports whether an undo action should be enabled.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled && !m.grouping && len(m.undo) > 0
}

// CanRedo reports whether a redo action should be enabled.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled && !m.grouping && len(m.redo) > 0
}

// Disable turns history off until Enable, the conservative guard used
// when replay would be unsafe. Recording while disabled is dropped.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

// Enable turns history back on.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = false
}

// Clear drops both stacks, used after a full reload invalidates every
// recorded identity, e.g. when the database file is swapped.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = nil
	m.redo = nil
	m.group = nil
	m.grouping = false
}

// Depths returns the stack sizes, for display and tests.
func (m *Manager) Depths() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}
