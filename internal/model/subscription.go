package model

import "time"

// Hub is a WebSub hub endpoint.
type Hub struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Subscription pairs a topic with a hub and carries the HMAC secret used
// to verify update callbacks. The secret is persisted encrypted; use
// Secret/SetSecret with the process key to access it.
//
// PollingInterval, when non-zero, marks the subscription as RSS mode: a
// polling loop fetches the topic URI every PollingInterval seconds instead
// of waiting for hub pushes.
type Subscription struct {
	ID              int64     `json:"id"`
	Site            string    `json:"site"`
	HubID           int64     `json:"hub_id"`
	TopicURI        string    `json:"topic_uri"`
	PollingInterval int       `json:"polling_interval,omitempty"`
	Time            time.Time `json:"time"`
	LeaseTime       time.Time `json:"lease_time"`
	EncryptedSecret string    `json:"-"`
}

// Secret decrypts the per-subscription HMAC secret.
func (s *Subscription) Secret(key *SecretKey) (string, error) {
	return key.Decrypt(s.EncryptedSecret)
}

// SetSecret encrypts and stores the per-subscription HMAC secret.
func (s *Subscription) SetSecret(key *SecretKey, secret string) error {
	encrypted, err := key.Encrypt(secret)
	if err != nil {
		return err
	}
	s.EncryptedSecret = encrypted
	return nil
}

// Copy satisfies the event bus Copier contract.
func (s *Subscription) Copy() any {
	c := *s
	return &c
}

// Feed is a parsed notification of new content from an upstream source.
type Feed struct {
	VideoID      string    `json:"video_id"`
	VideoTitle   string    `json:"video_title"`
	VideoURL     string    `json:"video_url"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	ChannelURL   string    `json:"channel_url"`
	Site         string    `json:"site"`
	UpdateTime   time.Time `json:"update_time"`
}

// Copy satisfies the event bus Copier contract.
func (f *Feed) Copy() any {
	c := *f
	return &c
}

// FeedXML stores the raw update payload for auditing and reprocessing.
type FeedXML struct {
	ID             int64  `json:"id"`
	DownloadTaskID int64  `json:"download_task_id"`
	XML            string `json:"xml"`
}
