package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/repost/internal/model"
)

// Hubs is the hub repository.
type Hubs struct {
	db *sql.DB
}

// NewHubs creates the hub repository.
func NewHubs(s *Service) *Hubs {
	return &Hubs{db: s.DB()}
}

// GetMultiple returns all hubs.
func (r *Hubs) GetMultiple(ctx context.Context) ([]*model.Hub, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, url FROM hubs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing hubs: %w", err)
	}
	defer rows.Close()

	var hubs []*model.Hub
	for rows.Next() {
		var h model.Hub
		if err := rows.Scan(&h.ID, &h.Name, &h.URL); err != nil {
			return nil, fmt.Errorf("scanning hub: %w", err)
		}
		hubs = append(hubs, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hubs: %w", err)
	}
	return hubs, nil
}

// Get returns the hub with the given id or ErrNotFound.
func (r *Hubs) Get(ctx context.Context, id int64) (*model.Hub, error) {
	var h model.Hub
	err := r.db.QueryRowContext(ctx, `SELECT id, name, url FROM hubs WHERE id = ?`, id).
		Scan(&h.ID, &h.Name, &h.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hub %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting hub %d: %w", id, err)
	}
	return &h, nil
}

// Create persists a new hub and returns it with the assigned id.
func (r *Hubs) Create(ctx context.Context, h *model.Hub) (*model.Hub, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO hubs (name, url) VALUES (?, ?)`, h.Name, h.URL)
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading hub id: %w", err)
	}
	persisted := *h
	persisted.ID = id
	return &persisted, nil
}

// Update overwrites the persisted hub and returns it, or ErrNotFound.
func (r *Hubs) Update(ctx context.Context, h *model.Hub) (*model.Hub, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE hubs SET name = ?, url = ? WHERE id = ?`, h.Name, h.URL, h.ID)
	if err != nil {
		return nil, fmt.Errorf("updating hub %d: %w", h.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking hub update: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: hub %d", ErrNotFound, h.ID)
	}
	out := *h
	return &out, nil
}

// Delete removes the hub. It reports whether a row was deleted.
func (r *Hubs) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hubs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting hub %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking hub delete: %w", err)
	}
	return affected > 0, nil
}

const subscriptionColumns = `id, site, hub_id, topic_uri, polling_interval, time, lease_time, encrypted_secret`

// Subscriptions is the subscription repository.
type Subscriptions struct {
	db *sql.DB
}

// NewSubscriptions creates the subscription repository.
func NewSubscriptions(s *Service) *Subscriptions {
	return &Subscriptions{db: s.DB()}
}

func scanSubscription(scan func(dest ...any) error) (*model.Subscription, error) {
	var sub model.Subscription
	err := scan(&sub.ID, &sub.Site, &sub.HubID, &sub.TopicURI, &sub.PollingInterval,
		&sub.Time, &sub.LeaseTime, &sub.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetMultiple returns all subscriptions.
func (r *Subscriptions) GetMultiple(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

// Get returns the subscription with the given id or ErrNotFound.
func (r *Subscriptions) Get(ctx context.Context, id int64) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting subscription %d: %w", id, err)
	}
	return sub, nil
}

// Create persists a new subscription and returns it with the assigned id.
func (r *Subscriptions) Create(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO subscriptions
		(site, hub_id, topic_uri, polling_interval, time, lease_time, encrypted_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.Site, sub.HubID, sub.TopicURI, sub.PollingInterval, sub.Time, sub.LeaseTime, sub.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading subscription id: %w", err)
	}
	persisted := *sub
	persisted.ID = id
	return &persisted, nil
}

// Update overwrites the persisted subscription, or ErrNotFound.
func (r *Subscriptions) Update(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET
		site = ?, hub_id = ?, topic_uri = ?, polling_interval = ?, time = ?, lease_time = ?, encrypted_secret = ?
		WHERE id = ?`,
		sub.Site, sub.HubID, sub.TopicURI, sub.PollingInterval, sub.Time, sub.LeaseTime, sub.EncryptedSecret, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("updating subscription %d: %w", sub.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking subscription update: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: subscription %d", ErrNotFound, sub.ID)
	}
	out := *sub
	return &out, nil
}

// Delete removes the subscription. It reports whether a row was deleted.
func (r *Subscriptions) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting subscription %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking subscription delete: %w", err)
	}
	return affected > 0, nil
}

// FeedXMLs stores raw update payloads.
type FeedXMLs struct {
	db *sql.DB
}

// NewFeedXMLs creates the feed XML repository.
func NewFeedXMLs(s *Service) *FeedXMLs {
	return &FeedXMLs{db: s.DB()}
}

// Create persists a raw feed payload.
func (r *FeedXMLs) Create(ctx context.Context, f *model.FeedXML) (*model.FeedXML, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO feed_xmls (download_task_id, xml) VALUES (?, ?)`,
		f.DownloadTaskID, f.XML)
	if err != nil {
		return nil, fmt.Errorf("creating feed xml: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading feed xml id: %w", err)
	}
	persisted := *f
	persisted.ID = id
	return &persisted, nil
}

// SetTask links a stored payload to the download task derived from it,
// or ErrNotFound.
func (r *FeedXMLs) SetTask(ctx context.Context, id, taskID int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE feed_xmls SET download_task_id = ? WHERE id = ?`, taskID, id)
	if err != nil {
		return fmt.Errorf("linking feed xml %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking feed xml link: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: feed xml %d", ErrNotFound, id)
	}
	return nil
}

// GetByTask returns the raw payloads recorded for a download task.
func (r *FeedXMLs) GetByTask(ctx context.Context, taskID int64) ([]*model.FeedXML, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, download_task_id, xml FROM feed_xmls WHERE download_task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing feed xmls: %w", err)
	}
	defer rows.Close()

	var out []*model.FeedXML
	for rows.Next() {
		var f model.FeedXML
		if err := rows.Scan(&f.ID, &f.DownloadTaskID, &f.XML); err != nil {
			return nil, fmt.Errorf("scanning feed xml: %w", err)
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feed xmls: %w", err)
	}
	return out, nil
}
