// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Device is a registered endpoint. ID is assigned once at registration
// and never reused, even after deletion.
type Device struct {
	ID        string
	UserID    string
	Name      string
	Platform  string
	Online    bool
	LastSeen  time.Time // zero if the device has never connected
	CreatedAt time.Time
}

// DeviceSession is a long-lived credential a device presents when
// connecting to the signaling relay. Expiry is absolute from issuance;
// use is not renewal.
type DeviceSession struct {
	Token     string
	DeviceID  string
	UserID    string
	ExpiresAt time.Time
}

// CreateDevice registers a device under a user account and assigns it
// a fresh identity.
func (s *Store) CreateDevice(ctx context.Context, userID, name, platform string) (Device, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Device{}, err
	}
	defer s.pool.Put(conn)

	device := Device{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Platform:  platform,
		CreatedAt: s.now(),
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO devices (id, user_id, name, platform, created_at) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{device.ID, device.UserID, device.Name, device.Platform, device.CreatedAt.Unix()},
		})
	if err != nil {
		return Device{}, fmt.Errorf("inserting device: %w", err)
	}

	s.logger.Info("device created", "device_id", device.ID, "user_id", userID, "platform", platform)
	return device, nil
}

// CreateDeviceSession issues a session token for a device. The token
// is opaque and unguessable; expiry is now plus ttl.
func (s *Store) CreateDeviceSession(ctx context.Context, deviceID, userID string, ttl time.Duration) (DeviceSession, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return DeviceSession{}, fmt.Errorf("generating token: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return DeviceSession{}, err
	}
	defer s.pool.Put(conn)

	now := s.now()
	session := DeviceSession{
		Token:     hex.EncodeToString(raw),
		DeviceID:  deviceID,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO device_sessions (token, device_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{session.Token, session.DeviceID, session.UserID, session.ExpiresAt.Unix(), now.Unix()},
		})
	if err != nil {
		return DeviceSession{}, fmt.Errorf("inserting device session: %w", err)
	}
	return session, nil
}

// DeviceSessionByToken looks up a session by its token. Expiry is
// returned, not enforced; the registry compares it against its clock.
// Returns ErrNotFound for an unknown token.
func (s *Store) DeviceSessionByToken(ctx context.Context, token string) (DeviceSession, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return DeviceSession{}, err
	}
	defer s.pool.Put(conn)

	var session DeviceSession
	err = sqlitex.Execute(conn,
		"SELECT token, device_id, user_id, expires_at FROM device_sessions WHERE token = ?",
		&sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session.Token = stmt.ColumnText(0)
				session.DeviceID = stmt.ColumnText(1)
				session.UserID = stmt.ColumnText(2)
				session.ExpiresAt = time.Unix(stmt.ColumnInt64(3), 0)
				return nil
			},
		})
	if err != nil {
		return DeviceSession{}, fmt.Errorf("querying device session: %w", err)
	}
	if session.Token == "" {
		return DeviceSession{}, ErrNotFound
	}
	return session, nil
}

// SetDevicePresence records whether a device currently holds a live
// signaling connection. last_seen updates on every transition.
func (s *Store) SetDevicePresence(ctx context.Context, deviceID string, online bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE devices SET online = ?, last_seen = ? WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{boolToInt(online), s.now().Unix(), deviceID},
		})
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// DevicesByUser lists a user's devices in registration order.
func (s *Store) DevicesByUser(ctx context.Context, userID string) ([]Device, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var devices []Device
	err = sqlitex.Execute(conn,
		`SELECT id, user_id, name, platform, online, last_seen, created_at
		FROM devices WHERE user_id = ? ORDER BY created_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				device := Device{
					ID:        stmt.ColumnText(0),
					UserID:    stmt.ColumnText(1),
					Name:      stmt.ColumnText(2),
					Platform:  stmt.ColumnText(3),
					Online:    stmt.ColumnInt64(4) != 0,
					CreatedAt: time.Unix(stmt.ColumnInt64(6), 0),
				}
				if stmt.ColumnType(5) != sqlite.TypeNull {
					device.LastSeen = time.Unix(stmt.ColumnInt64(5), 0)
				}
				devices = append(devices, device)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// DeleteDevice removes a device and its sessions. The userID must own
// the device; returns ErrNotFound otherwise, so callers cannot probe
// for other users' device IDs.
func (s *Store) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM devices WHERE id = ? AND user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{deviceID, userID},
		})
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}

	s.logger.Info("device deleted", "device_id", deviceID, "user_id", userID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
