package messaging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/pairing/internal/moderation"
)

type published struct {
	subject string
	data    []byte
}

type fakeClient struct {
	out []published
	err error
}

func (f *fakeClient) PublishModerationAction(data []byte) error {
	f.out = append(f.out, published{SubjectModerationAction, data})
	return f.err
}

func (f *fakeClient) PublishWatchedMessage(pairID string, data []byte) error {
	f.out = append(f.out, published{WatchSubject(pairID), data})
	return f.err
}

func TestModerationPublisher_Action(t *testing.T) {
	client := &fakeClient{}
	p := NewModerationPublisher(client)

	p.Action(moderation.ActionEvent{
		Action:  "ban",
		Source:  moderation.SourceAuto,
		ConnID:  "c1",
		Address: "10.0.0.1",
		Until:   1700000000000,
		Ts:      1690000000000,
	})

	require.Len(t, client.out, 1)
	assert.Equal(t, "moderation.action", client.out[0].subject)

	var got moderation.ActionEvent
	require.NoError(t, json.Unmarshal(client.out[0].data, &got))
	assert.Equal(t, "ban", got.Action)
	assert.Equal(t, "10.0.0.1", got.Address)
	assert.Equal(t, int64(1700000000000), got.Until)
}

func TestModerationPublisher_Watched(t *testing.T) {
	client := &fakeClient{}
	p := NewModerationPublisher(client)

	p.Watched(moderation.WatchedMessage{PairID: "p-1", From: "c1", Alias: "Stranger#1111", Text: "hi"})

	require.Len(t, client.out, 1)
	assert.Equal(t, "moderation.watch.p-1", client.out[0].subject)
	assert.JSONEq(t, `{"pair_id":"p-1","from":"c1","alias":"Stranger#1111","text":"hi","ts":0}`, string(client.out[0].data))
}

func TestModerationPublisher_ErrorsAreSwallowed(t *testing.T) {
	client := &fakeClient{err: errors.New("nats: connection closed")}
	p := NewModerationPublisher(client)

	assert.NotPanics(t, func() {
		p.Action(moderation.ActionEvent{Action: "kick"})
		p.Watched(moderation.WatchedMessage{PairID: "x"})
	})
	assert.Len(t, client.out, 2)
}

func TestPairIDFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"moderation.watch.abc", "abc", true},
		{"moderation.watch.", "", false},
		{"moderation.action", "", false},
		{"other.subject", "", false},
	}
	for _, tc := range cases {
		got, ok := PairIDFromSubject(tc.subject)
		assert.Equal(t, tc.ok, ok, tc.subject)
		assert.Equal(t, tc.want, got, tc.subject)
	}
}
