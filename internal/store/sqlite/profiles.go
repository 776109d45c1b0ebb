package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Profile is the stored part of a user profile that feeds the stable prefix.
type Profile struct {
	UserID       string `json:"userId" yaml:"userId"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	HomeLocation string `json:"homeLocation" yaml:"homeLocation"`
	Vehicle      string `json:"vehicle" yaml:"vehicle"`
	Preferences  string `json:"preferences" yaml:"preferences"`
}

// Summary renders the profile as one line, skipping empty fields.
func (p Profile) Summary() string {
	var parts []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Name", p.DisplayName)
	add("Home", p.HomeLocation)
	add("Vehicle", p.Vehicle)
	add("Preferences", p.Preferences)
	return strings.Join(parts, "; ")
}

// SetProfile inserts or replaces a user profile.
func (d *DB) SetProfile(ctx context.Context, p Profile) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, home_location, vehicle, preferences, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			home_location = excluded.home_location,
			vehicle = excluded.vehicle,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.HomeLocation, p.Vehicle, p.Preferences, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetSummary returns the rendered profile line, or "" for unknown users.
func (d *DB) GetSummary(ctx context.Context, userID string) (string, error) {
	var p Profile
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, home_location, vehicle, preferences FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.HomeLocation, &p.Vehicle, &p.Preferences)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	return p.Summary(), nil
}

// SetInstructions stores the learned instructions of an agent for a user.
func (d *DB) SetInstructions(ctx context.Context, agentID, userID, text string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agent_instructions (agent_id, user_id, instructions, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, user_id) DO UPDATE SET
			instructions = excluded.instructions,
			updated_at = excluded.updated_at`,
		agentID, userID, text, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("save instructions: %w", err)
	}
	return nil
}

// GetInstructions returns the learned instructions, or "" when none exist.
func (d *DB) GetInstructions(ctx context.Context, agentID, userID string) (string, error) {
	var text string
	err := d.db.QueryRowContext(ctx,
		`SELECT instructions FROM agent_instructions WHERE agent_id = ? AND user_id = ?`, agentID, userID,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load instructions: %w", err)
	}
	return strings.TrimSpace(text), nil
}
