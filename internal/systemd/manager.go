// Package systemd controls the daemon's own unit over D-Bus.
package systemd

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DefaultUnit is the unit camgraph is installed as.
const DefaultUnit = "camgraph.service"

// UnitStatus is the state of a unit as systemd reports it.
type UnitStatus struct {
	Unit        string `json:"unit" example:"camgraph.service" doc:"Unit name"`
	ActiveState string `json:"active_state" example:"active" doc:"systemd ActiveState"`
	SubState    string `json:"sub_state" example:"running" doc:"systemd SubState"`
}

// Manager queries and restarts one unit.
type Manager struct {
	conn *dbus.Conn
	unit string
}

// NewManager connects to the user D-Bus and binds the manager to unit.
func NewManager(ctx context.Context, unit string) (*Manager, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	if unit == "" {
		unit = DefaultUnit
	}
	return &Manager{conn: conn, unit: unit}, nil
}

// Unit returns the managed unit name.
func (m *Manager) Unit() string {
	return m.unit
}

// Status reads the unit's ActiveState and SubState.
func (m *Manager) Status(ctx context.Context) (UnitStatus, error) {
	st := UnitStatus{Unit: m.unit}
	active, err := m.conn.GetUnitPropertyContext(ctx, m.unit, "ActiveState")
	if err != nil {
		return st, err
	}
	sub, err := m.conn.GetUnitPropertyContext(ctx, m.unit, "SubState")
	if err != nil {
		return st, err
	}
	st.ActiveState = unquote(active.Value.String())
	st.SubState = unquote(sub.Value.String())
	return st, nil
}

// Restart queues a restart job for the unit. It returns once systemd has
// accepted the job, before the process is replaced.
func (m *Manager) Restart(ctx context.Context) error {
	_, err := m.conn.RestartUnitContext(ctx, m.unit, "replace", nil)
	return err
}

// Close cleanly closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// D-Bus variants format strings with their quotes.
func unquote(s string) string {
	return strings.Trim(s, `"`)
}
