package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Lead is one prospect record.
type Lead struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	CampaignID string     `json:"campaign_id,omitempty"`
	Name       string     `json:"name"`
	Company    string     `json:"company,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Status     string     `json:"status"`
	LastTouch  *time.Time `json:"last_touch,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Message is one inbound or outbound message on a lead's thread.
type Message struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	LeadID     string    `json:"lead_id"`
	Direction  string    `json:"direction"` // inbound|outbound
	Channel    string    `json:"channel"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	ExternalID string    `json:"external_id,omitempty"`
	Handled    bool      `json:"handled"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveLead upserts a lead.
func (s *Store) SaveLead(ctx context.Context, l *Lead) error {
	if l.Status == "" {
		l.Status = "new"
	}
	if l.ID == "" {
		err := s.db.QueryRow(ctx, `
			INSERT INTO leads (id, org_id, campaign_id, name, company, email, phone, status)
			VALUES (gen_random_uuid(), $1, NULLIF($2,''), $3, $4, $5, $6, $7)
			RETURNING id`,
			l.OrgID, l.CampaignID, l.Name, l.Company, l.Email, l.Phone, l.Status,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE leads SET name = $2, company = $3, email = $4, phone = $5,
			status = $6, updated_at = NOW()
		WHERE id = $1`,
		l.ID, l.Name, l.Company, l.Email, l.Phone, l.Status)
	if err != nil {
		return fmt.Errorf("update lead %s: %w", l.ID, err)
	}
	return nil
}

// GetLead returns one lead by ID.
func (s *Store) GetLead(ctx context.Context, id string) (*Lead, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, org_id, COALESCE(campaign_id,''), name, COALESCE(company,''),
		       COALESCE(email,''), COALESCE(phone,''), status, last_touch,
		       created_at, updated_at
		FROM leads WHERE id = $1`, id)

	var l Lead
	if err := row.Scan(
		&l.ID, &l.OrgID, &l.CampaignID, &l.Name, &l.Company,
		&l.Email, &l.Phone, &l.Status, &l.LastTouch,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return &l, nil
}

// UpdateStatus sets a lead's pipeline status.
func (s *Store) UpdateStatus(ctx context.Context, orgID, leadID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET status = $3, updated_at = NOW()
		WHERE id = $2 AND org_id = $1`, orgID, leadID, status)
	if err != nil {
		return fmt.Errorf("update lead status %s: %w", leadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update lead status: lead %s not found", leadID)
	}
	return nil
}

// AddNote attaches a note to a lead.
func (s *Store) AddNote(ctx context.Context, orgID, leadID, note string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO lead_notes (id, org_id, lead_id, note)
		VALUES (gen_random_uuid(), $1, $2, $3)`, orgID, leadID, note)
	if err != nil {
		return fmt.Errorf("add note to %s: %w", leadID, err)
	}
	return nil
}

// HasChannel reports whether the lead can be reached on the channel.
// Email needs an address; whatsapp and sms need a phone number.
func (s *Store) HasChannel(ctx context.Context, orgID, leadID, channel string) (bool, error) {
	var email, phone string
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(email,''), COALESCE(phone,'')
		FROM leads WHERE id = $2 AND org_id = $1`, orgID, leadID).Scan(&email, &phone)
	if err != nil {
		return false, fmt.Errorf("lead channel check %s: %w", leadID, err)
	}
	switch channel {
	case "email":
		return email != "", nil
	case "whatsapp", "sms":
		return phone != "", nil
	}
	return false, nil
}

// RecordMessage appends a message to a lead's thread. Outbound messages
// also bump the lead's last_touch.
func (s *Store) RecordMessage(ctx context.Context, m *Message) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (id, org_id, lead_id, direction, channel, subject, body, external_id, handled)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NULLIF($7,''), $8)
		RETURNING id`,
		m.OrgID, m.LeadID, m.Direction, m.Channel, m.Subject, m.Body, m.ExternalID, m.Handled,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}

	if m.Direction == "outbound" {
		if _, err := s.db.Exec(ctx, `
			UPDATE leads SET last_touch = NOW(), updated_at = NOW() WHERE id = $1`,
			m.LeadID); err != nil {
			return fmt.Errorf("touch lead %s: %w", m.LeadID, err)
		}
	}
	return nil
}

// Thread returns a lead's messages oldest first.
func (s *Store) Thread(ctx context.Context, orgID, leadID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, lead_id, direction, channel, COALESCE(subject,''),
		       body, COALESCE(external_id,''), handled, created_at
		FROM messages WHERE org_id = $1 AND lead_id = $2
		ORDER BY created_at ASC LIMIT $3`, orgID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("lead thread: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnhandledInbound returns inbound messages no task has processed yet.
// Work discovery turns each into a classify_reply task and marks it
// handled so the same reply is never picked up twice.
func (s *Store) UnhandledInbound(ctx context.Context, orgID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, lead_id, direction, channel, COALESCE(subject,''),
		       body, COALESCE(external_id,''), handled, created_at
		FROM messages
		WHERE org_id = $1 AND direction = 'inbound' AND NOT handled
		ORDER BY created_at ASC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("unhandled inbound: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageHandled flags an inbound message as picked up.
func (s *Store) MarkMessageHandled(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE messages SET handled = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark message handled %s: %w", id, err)
	}
	return nil
}

// StaleLeads returns engaged leads whose last outbound touch is older
// than the cutoff and who have not replied since. Work discovery turns
// these into follow_up tasks.
func (s *Store) StaleLeads(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*Lead, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT l.id, l.org_id, COALESCE(l.campaign_id,''), l.name, COALESCE(l.company,''),
		       COALESCE(l.email,''), COALESCE(l.phone,''), l.status, l.last_touch,
		       l.created_at, l.updated_at
		FROM leads l
		WHERE l.org_id = $1
		  AND l.status NOT IN ('unsubscribed','not_interested','closed')
		  AND l.last_touch IS NOT NULL AND l.last_touch < $2
		  AND NOT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.lead_id = l.id AND m.direction = 'inbound' AND m.created_at > l.last_touch)
		ORDER BY l.last_touch ASC LIMIT $3`, orgID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(
			&l.ID, &l.OrgID, &l.CampaignID, &l.Name, &l.Company,
			&l.Email, &l.Phone, &l.Status, &l.LastTouch,
			&l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, &l)
	}
	return leads, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.OrgID, &m.LeadID, &m.Direction, &m.Channel, &m.Subject,
			&m.Body, &m.ExternalID, &m.Handled, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
