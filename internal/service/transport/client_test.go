package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/startup-chat/client/internal/assistantstub"
	"github.com/zhouzirui/startup-chat/client/internal/config"
	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
)

func newClient(t *testing.T, stub *assistantstub.Server) *transport.Client {
	t.Helper()
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	return transport.NewClient(config.RemoteConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, nil)
}

func TestEncodeDecodeIsReversible(t *testing.T) {
	in := map[string]string{"text": "स्टार्टअप कसे सुरू करावे?"}

	encoded, err := transport.Encode(in)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "text")

	var out map[string]string
	require.NoError(t, transport.Decode(encoded, &out))
	assert.Equal(t, in, out)

	again, err := transport.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, encoded, again, "encoding is deterministic")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var out map[string]string
	assert.Error(t, transport.Decode("%%%not-base64", &out))
	assert.Error(t, transport.Decode("bm90IGpzb24=", &out)) // "not json"
}

func TestRequestTokenThenQuery(t *testing.T) {
	stub := assistantstub.New(
		assistantstub.WithSessionIDs("s1"),
		assistantstub.WithAnswer(func(string) string { return "स्वागत आहे" }),
	)
	client := newClient(t, stub)
	ctx := context.Background()

	grant, err := client.RequestIntegrityToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", grant.SessionID)
	assert.NotEmpty(t, grant.Token)

	answer, err := client.SendQuery(ctx, "नमस्कार", grant.SessionID, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, "स्वागत आहे", answer.Answer)
	assert.Equal(t, "s1", answer.SessionID)

	queries := stub.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "नमस्कार", queries[0].Text)
	require.NotNil(t, queries[0].Token)
	assert.Equal(t, grant.Token, *queries[0].Token)
}

func TestSendQueryWithoutTokenSendsNull(t *testing.T) {
	stub := assistantstub.New()
	client := newClient(t, stub)

	_, err := client.SendQuery(context.Background(), "hi", "resumed", "")
	require.NoError(t, err)

	queries := stub.Queries()
	require.Len(t, queries, 1)
	assert.Nil(t, queries[0].Token)
	assert.Equal(t, "resumed", queries[0].SessionID)
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   transport.Kind
	}{
		{http.StatusBadRequest, transport.KindClientRequest},
		{http.StatusForbidden, transport.KindClientRequest},
		{http.StatusTooManyRequests, transport.KindClientRequest},
		{http.StatusInternalServerError, transport.KindServerProcessing},
		{http.StatusBadGateway, transport.KindServerProcessing},
		{http.StatusNotModified, transport.KindUnexpected},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			stub := assistantstub.New()
			stub.FailQueries(tc.status)
			client := newClient(t, stub)

			_, err := client.SendQuery(context.Background(), "hi", "s1", "")
			require.Error(t, err)

			var te *transport.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.kind, te.Kind)
			assert.Equal(t, tc.status, te.Status)
			assert.Equal(t, tc.kind, transport.KindOf(err))
		})
	}
}

func TestNetworkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := transport.NewClient(config.RemoteConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.RequestIntegrityToken(context.Background())

	assert.Equal(t, transport.KindNetworkUnreachable, transport.KindOf(err))
}

func TestMalformedSuccessBodyIsUnexpected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":"@@@"}`))
	}))
	defer srv.Close()

	client := transport.NewClient(config.RemoteConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)
	_, err := client.SendQuery(context.Background(), "hi", "s1", "")

	assert.Equal(t, transport.KindUnexpected, transport.KindOf(err))
}

func TestTokenMethodAndContentType(t *testing.T) {
	var gotMethod, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotType = r.Method, r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"session_id":"s9","csrf_token":"t"}`))
	}))
	defer srv.Close()

	client := transport.NewClient(config.RemoteConfig{BaseURL: srv.URL, Timeout: time.Second, TokenMethod: "get"}, nil)
	grant, err := client.RequestIntegrityToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, transport.Grant{SessionID: "s9", Token: "t"}, grant)
}

func TestTranscribe(t *testing.T) {
	stub := assistantstub.New(assistantstub.WithTranscript("स्टार्टअप"))
	client := newClient(t, stub)
	ctx := context.Background()

	grant, err := client.RequestIntegrityToken(ctx)
	require.NoError(t, err)

	text, err := client.Transcribe(ctx, strings.NewReader("RIFF...."), "clip.webm", grant.SessionID, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, "स्टार्टअप", text)

	_, err = client.Transcribe(ctx, strings.NewReader("RIFF...."), "clip.webm", grant.SessionID, "")
	assert.Equal(t, transport.KindClientRequest, transport.KindOf(err))
}

func TestTranscribePlainResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.Header.Get("X-Session-ID"))
		_, _ = w.Write([]byte(`{"transcript":"plain"}`))
	}))
	defer srv.Close()

	client := transport.NewClient(config.RemoteConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)
	text, err := client.Transcribe(context.Background(), strings.NewReader("x"), "a.wav", "s1", "t")
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestAudioContentType(t *testing.T) {
	assert.Equal(t, "audio/wav", transport.AudioContentType("a.WAV"))
	assert.Equal(t, "audio/mpeg", transport.AudioContentType("a.mp3"))
	assert.Equal(t, "audio/webm", transport.AudioContentType("recording"))
}
