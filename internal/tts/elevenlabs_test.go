package tts_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "sk-test"

// fakeElevenLabs records the voices it holds and the requests it served.
type fakeElevenLabs struct {
	t *testing.T

	mu       sync.Mutex
	nextID   int
	voices   map[string]string
	deleted  []string
	speakers []string
	ttsErr   bool
}

func newFakeElevenLabs(t *testing.T) (*fakeElevenLabs, *httptest.Server) {
	t.Helper()

	fake := &fakeElevenLabs{t: t, voices: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/voices/add", fake.addVoice)
	mux.HandleFunc("DELETE /v1/voices/{id}", fake.deleteVoice)
	mux.HandleFunc("POST /v1/text-to-speech/{id}", fake.textToSpeech)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return fake, server
}

func (f *fakeElevenLabs) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("xi-api-key") != testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key"}}`))

		return false
	}

	return true
}

func (f *fakeElevenLabs) addVoice(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}

	assert.NoError(f.t, r.ParseMultipartForm(1<<20))
	assert.True(f.t, strings.HasPrefix(r.FormValue("name"), "narrator-"))

	file, header, err := r.FormFile("files")
	if !assert.NoError(f.t, err) {
		w.WriteHeader(http.StatusBadRequest)

		return
	}
	defer file.Close()

	data, _ := io.ReadAll(file)
	assert.Equal(f.t, "voice-sample.wav", header.Filename)
	assert.Equal(f.t, "RIFF", string(data[:4]))

	f.mu.Lock()
	f.nextID++
	voiceID := "voice-" + string(rune('0'+f.nextID))
	f.voices[voiceID] = r.FormValue("name")
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"voice_id": voiceID})
}

func (f *fakeElevenLabs) deleteVoice(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := r.PathValue("id")
	if _, ok := f.voices[id]; !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	delete(f.voices, id)
	f.deleted = append(f.deleted, id)
}

func (f *fakeElevenLabs) textToSpeech(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	failing := f.ttsErr
	f.speakers = append(f.speakers, r.PathValue("id"))
	f.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":{"status":"quota_exceeded","message":"This request exceeds your quota"}}`))

		return
	}

	var body map[string]any
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	assert.Equal(f.t, "eleven_multilingual_v2", body["model_id"])
	assert.Equal(f.t, "audio/mpeg", r.Header.Get("Accept"))

	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write([]byte("ID3 fake mp3 for " + body["text"].(string)))
}

func (f *fakeElevenLabs) snapshot() (voices int, deleted, speakers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.voices), append([]string(nil), f.deleted...), append([]string(nil), f.speakers...)
}

func newElevenLabs(t *testing.T, baseURL, apiKey string) *tts.ElevenLabsBackend {
	t.Helper()

	return tts.NewElevenLabsBackend(tts.ElevenLabsConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 5 * time.Second,
	}, newTestLogger(t))
}

func TestElevenLabs_Available(t *testing.T) {
	t.Parallel()

	backend := newElevenLabs(t, "http://127.0.0.1:1", "")

	assert.Equal(t, core.BackendCloudCloneAPI, backend.ID())
	assert.True(t, backend.Capabilities().QuotaBound)
	assert.True(t, backend.Capabilities().RequiresNetwork)
	require.ErrorIs(t, backend.Available(context.Background()), core.ErrMissingPrerequisite)

	_, err := backend.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrMissingPrerequisite)

	backend = newElevenLabs(t, "http://127.0.0.1:1", testAPIKey)
	require.NoError(t, backend.Available(context.Background()))
}

func TestElevenLabs_VoiceLifecycle(t *testing.T) {
	t.Parallel()

	fake, server := newFakeElevenLabs(t)
	backend := newElevenLabs(t, server.URL, testAPIKey)
	sample := writeSample(t)

	first, err := backend.Synthesize(context.Background(), newRequest(t, "Chapter one."), sample)
	require.NoError(t, err)
	assert.Equal(t, audio.FORMAT_MP3, first.Format)
	assert.Equal(t, "ID3 fake mp3 for Chapter one.", string(first.Data))

	_, err = backend.Synthesize(context.Background(), newRequest(t, "Chapter two."), sample)
	require.NoError(t, err)

	voices, deleted, speakers := fake.snapshot()
	assert.Equal(t, 1, voices)
	assert.Empty(t, deleted)
	assert.Equal(t, []string{"voice-1", "voice-1"}, speakers)

	// A replaced sample gets a fresh voice and the old one is removed.
	replacement := writeSample(t)
	replacement.ID = "9c1d2e3f-0000-4000-8000-000000000000"

	_, err = backend.Synthesize(context.Background(), newRequest(t, "Chapter three."), replacement)
	require.NoError(t, err)

	voices, deleted, speakers = fake.snapshot()
	assert.Equal(t, 1, voices)
	assert.Equal(t, []string{"voice-1"}, deleted)
	assert.Equal(t, "voice-2", speakers[len(speakers)-1])

	require.NoError(t, backend.Close())

	voices, deleted, _ = fake.snapshot()
	assert.Zero(t, voices)
	assert.Equal(t, []string{"voice-1", "voice-2"}, deleted)
}

func TestElevenLabs_Errors(t *testing.T) {
	t.Parallel()

	fake, server := newFakeElevenLabs(t)

	unauthorized := newElevenLabs(t, server.URL, "sk-wrong")

	_, err := unauthorized.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrSynthesis)
	assert.Contains(t, err.Error(), "invalid_api_key")

	fake.mu.Lock()
	fake.ttsErr = true
	fake.mu.Unlock()

	backend := newElevenLabs(t, server.URL, testAPIKey)

	_, err = backend.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrSynthesis)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota_exceeded")

	missing := writeSample(t)
	require.NoError(t, os.Remove(missing.AudioPath))
	missing.ID = "missing-sample"

	_, err = backend.Synthesize(context.Background(), newRequest(t, "Hello."), missing)
	require.ErrorIs(t, err, core.ErrSynthesis)
}
