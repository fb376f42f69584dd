package subscriber

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/store"
)

const youtubeAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <yt:channelId>UC-lHJZR3Gqxm24_Vd_AJ5Yw</yt:channelId>
    <title>Never Gonna Give You Up</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
    <author>
      <name>RickAstleyVEVO</name>
      <uri>https://www.youtube.com/channel/UC-lHJZR3Gqxm24_Vd_AJ5Yw</uri>
    </author>
    <updated>2015-03-09T19:05:24+00:00</updated>
  </entry>
</feed>`

type websubFixture struct {
	websub *WebSub
	bus    *eventbus.Bus
	hubs   *store.Hubs
	subs   *store.Subscriptions
	feeds  *store.FeedXMLs
	key    *model.SecretKey
	hubID  int64
}

func newWebSubFixture(t *testing.T, validation time.Duration) *websubFixture {
	t.Helper()
	svc, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	bus := eventbus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})

	key := model.NewSecretKey("test-passphrase")
	hubs := store.NewHubs(svc)
	subs := store.NewSubscriptions(svc)
	feeds := store.NewFeedXMLs(svc)

	websub := NewWebSub(Config{
		CallbackURL:        "https://repost.example.com/subscription/callback",
		VerifyToken:        "verify-token-123",
		ValidationInterval: validation,
		LeaseSeconds:       3600,
	}, hubs, subs, feeds, key, bus, nil)

	hub, err := hubs.Create(context.Background(), &model.Hub{Name: "testhub", URL: "replaced-per-test"})
	require.NoError(t, err)

	return &websubFixture{websub: websub, bus: bus, hubs: hubs, subs: subs,
		feeds: feeds, key: key, hubID: hub.ID}
}

func (f *websubFixture) setHubURL(t *testing.T, hubURL string) {
	t.Helper()
	_, err := f.hubs.Update(context.Background(), &model.Hub{ID: f.hubID, Name: "testhub", URL: hubURL})
	require.NoError(t, err)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSubscribeHandshakeSucceeds(t *testing.T) {
	f := newWebSubFixture(t, 5*time.Second)

	var gotForm url.Values
	hub := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		gotForm = req.PostForm
		// Async validation: the hub calls back with the challenge.
		go func() {
			parts := strings.Split(gotForm.Get("hub.callback"), "/")
			id, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
			challenge, err := f.websub.Validate(id, gotForm.Get("hub.verify_token"), "challenge-42")
			assert.NoError(t, err)
			assert.Equal(t, "challenge-42", challenge)
		}()
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer hub.Close()
	f.setHubURL(t, hub.URL)

	sub, err := f.websub.Subscribe(context.Background(), &model.Subscription{
		Site:     "youtube",
		HubID:    f.hubID,
		TopicURI: "https://www.youtube.com/xml/feeds/videos.xml?channel_id=CID",
	})
	require.NoError(t, err)

	assert.Equal(t, "subscribe", gotForm.Get("hub.mode"))
	assert.Equal(t, "async", gotForm.Get("hub.verify"))
	assert.Equal(t, "verify-token-123", gotForm.Get("hub.verify_token"))
	assert.Equal(t, "3600", gotForm.Get("hub.lease_numbers"))
	assert.NotEmpty(t, gotForm.Get("hub.secret"))
	assert.Contains(t, gotForm.Get("hub.callback"), "/youtube/")

	persisted, err := f.subs.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, f.hubID, persisted.HubID)
	assert.Equal(t, "https://www.youtube.com/xml/feeds/videos.xml?channel_id=CID", persisted.TopicURI)

	secret, err := persisted.Secret(f.key)
	require.NoError(t, err)
	assert.Equal(t, gotForm.Get("hub.secret"), secret)
}

func TestSubscribeTimesOutAndRollsBack(t *testing.T) {
	f := newWebSubFixture(t, 60*time.Millisecond)

	hub := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusAccepted) // never validates
	}))
	defer hub.Close()
	f.setHubURL(t, hub.URL)

	_, err := f.websub.Subscribe(context.Background(), &model.Subscription{
		Site: "youtube", HubID: f.hubID, TopicURI: "topic",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscribeTimeout)

	subs, err := f.subs.GetMultiple(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscribeWrongTokenValidationRejected(t *testing.T) {
	f := newWebSubFixture(t, 60*time.Millisecond)

	hub := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		callback := req.PostForm.Get("hub.callback")
		go func() {
			parts := strings.Split(callback, "/")
			id, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
			_, err := f.websub.Validate(id, "wrong-token", "challenge")
			assert.ErrorIs(t, err, ErrInvalidToken)
		}()
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer hub.Close()
	f.setHubURL(t, hub.URL)

	_, err := f.websub.Subscribe(context.Background(), &model.Subscription{
		Site: "youtube", HubID: f.hubID, TopicURI: "topic",
	})
	assert.ErrorIs(t, err, ErrSubscribeTimeout)
}

func TestSubscribeUnknownSite(t *testing.T) {
	f := newWebSubFixture(t, time.Second)
	_, err := f.websub.Subscribe(context.Background(), &model.Subscription{
		Site: "myspace", HubID: f.hubID, TopicURI: "topic",
	})
	assert.ErrorIs(t, err, ErrUnknownSite)
}

func TestUnsubscribeDeletesSubscription(t *testing.T) {
	f := newWebSubFixture(t, 5*time.Second)

	hub := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		form := req.PostForm
		go func() {
			parts := strings.Split(form.Get("hub.callback"), "/")
			id, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
			_, _ = f.websub.Validate(id, form.Get("hub.verify_token"), "c")
		}()
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer hub.Close()
	f.setHubURL(t, hub.URL)

	sub, err := f.websub.Subscribe(context.Background(), &model.Subscription{
		Site: "youtube", HubID: f.hubID, TopicURI: "topic",
	})
	require.NoError(t, err)

	require.NoError(t, f.websub.Unsubscribe(context.Background(), sub.ID))
	_, err = f.subs.Get(context.Background(), sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReceiveUpdateVerifiesSignature(t *testing.T) {
	f := newWebSubFixture(t, time.Second)
	ctx := context.Background()

	sub := &model.Subscription{Site: "youtube", HubID: f.hubID, TopicURI: "topic"}
	require.NoError(t, sub.SetSecret(f.key, "shared-secret"))
	persisted, err := f.subs.Create(ctx, sub)
	require.NoError(t, err)

	body := []byte(youtubeAtom)

	// Matching signature: accepted, feed fans out.
	taskCh := make(chan *model.DownloadTask, 1)
	f.bus.Bind(eventbus.TopicChannelUpdate, func(ctx context.Context, payload any) error {
		feed, ok := payload.(*model.Feed)
		if ok {
			taskCh <- DownloadTaskFromFeed(feed)
		}
		return nil
	})
	require.NoError(t, f.websub.ReceiveUpdate(ctx, "youtube", persisted.ID, body, "sha1="+signBody("shared-secret", body)))

	select {
	case task := <-taskCh:
		assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", task.URL)
		assert.Equal(t, "Never Gonna Give You Up", task.Name)
		assert.Equal(t, "youtube", task.Site)
	case <-time.After(2 * time.Second):
		t.Fatal("channel update event never arrived")
	}

	// Tampered body: rejected.
	err = f.websub.ReceiveUpdate(ctx, "youtube", persisted.ID, []byte("tampered"), "sha1="+signBody("shared-secret", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Wrong secret: rejected.
	err = f.websub.ReceiveUpdate(ctx, "youtube", persisted.ID, body, "sha1="+signBody("other-secret", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestReceiveUpdatePersistsFeedXML(t *testing.T) {
	f := newWebSubFixture(t, time.Second)
	ctx := context.Background()

	sub := &model.Subscription{Site: "youtube", HubID: f.hubID, TopicURI: "topic"}
	require.NoError(t, sub.SetSecret(f.key, "s3cret"))
	persisted, err := f.subs.Create(ctx, sub)
	require.NoError(t, err)

	body := []byte(youtubeAtom)
	require.NoError(t, f.websub.ReceiveUpdate(ctx, "youtube", persisted.ID, body, signBody("s3cret", body)))

	// Simulate the download scheduler persisting the derived task.
	created := &model.DownloadTask{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	created.ID = 77
	f.bus.Emit(ctx, eventbus.TopicDownloadCreated, created)

	require.Eventually(t, func() bool {
		stored, err := f.feeds.GetByTask(ctx, 77)
		return err == nil && len(stored) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.feeds.GetByTask(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, youtubeAtom, stored[0].XML)
}

func TestReceiveUpdatePersistsFeedXMLWithoutTask(t *testing.T) {
	f := newWebSubFixture(t, time.Second)
	ctx := context.Background()

	sub := &model.Subscription{Site: "youtube", HubID: f.hubID, TopicURI: "topic"}
	require.NoError(t, sub.SetSecret(f.key, "s3cret"))
	persisted, err := f.subs.Create(ctx, sub)
	require.NoError(t, err)

	// No download task is ever derived (auto-download off); the raw
	// payload must be on disk anyway, unlinked.
	body := []byte(youtubeAtom)
	require.NoError(t, f.websub.ReceiveUpdate(ctx, "youtube", persisted.ID, body, signBody("s3cret", body)))

	stored, err := f.feeds.GetByTask(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, youtubeAtom, stored[0].XML)
}

func TestVerifySignatureForms(t *testing.T) {
	body := []byte("payload")
	sig := signBody("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.True(t, VerifySignature("secret", body, "sha1="+sig))
	assert.False(t, VerifySignature("secret", body, "sha1=deadbeef"))
	assert.False(t, VerifySignature("wrong", body, sig))
}

func TestYouTubeParser(t *testing.T) {
	feed, err := YouTubeParser{}.ParseFeed([]byte(youtubeAtom))
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", feed.VideoID)
	assert.Equal(t, "Never Gonna Give You Up", feed.VideoTitle)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", feed.VideoURL)
	assert.Equal(t, "UC-lHJZR3Gqxm24_Vd_AJ5Yw", feed.ChannelID)
	assert.Equal(t, "RickAstleyVEVO", feed.ChannelTitle)
	assert.Equal(t, "https://www.youtube.com/channel/UC-lHJZR3Gqxm24_Vd_AJ5Yw", feed.ChannelURL)
	assert.Equal(t, "youtube", feed.Site)
	assert.Equal(t, 2015, feed.UpdateTime.Year())

	_, err = YouTubeParser{}.ParseFeed([]byte("<feed></feed>"))
	assert.ErrorIs(t, err, ErrMalformedFeed)

	_, err = YouTubeParser{}.ParseFeed([]byte("not xml"))
	assert.ErrorIs(t, err, ErrMalformedFeed)
}
