package nostrauth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walias/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

// echoPubkey answers with whatever pubkey the middleware attached.
func echoPubkey() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(requestcontext.Pubkey(r.Context())))
	})
}

type eventOpts struct {
	kind      int
	createdAt int64
	url       string
	method    string
	payload   string // hex sha256 of the body; empty omits the tag
}

func signedHeader(t *testing.T, sk string, opts eventOpts) string {
	t.Helper()

	tags := nostr.Tags{}
	if opts.url != "" {
		tags = append(tags, nostr.Tag{"u", opts.url})
	}
	if opts.method != "" {
		tags = append(tags, nostr.Tag{"method", opts.method})
	}
	if opts.payload != "" {
		tags = append(tags, nostr.Tag{"payload", opts.payload})
	}

	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	ev := nostr.Event{
		PubKey:    pk,
		CreatedAt: nostr.Timestamp(opts.createdAt),
		Kind:      opts.kind,
		Tags:      tags,
	}
	require.NoError(t, ev.Sign(sk))

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func serve(req *http.Request) *httptest.ResponseRecorder {
	// httptest.NewRequest leaves the absolute target in RequestURI; a real
	// server delivers the origin-form (path?query), which requestURL expects.
	req.RequestURI = req.URL.RequestURI()
	handler := Middleware(discardLogger(), nil)(echoPubkey())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

const testURL = "http://example.com/domains/example.com"

func TestMissingHeaderPassesThroughUnauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	// A spoofed identity header must not survive the middleware.
	req.Header.Set(AuthenticatedPubkeyHeader, "attacker")

	rr := serve(req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String(), "no pubkey must be attached")
}

func TestValidEventAttachesPubkey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodGet,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pk, rr.Body.String())
}

func TestTamperedSignatureRejected(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	header := signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodGet,
	})

	// Flip the event's kind after signing.
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Nostr "))
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"kind":27235`, `"kind":27236`, 1)

	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", "Nostr "+base64.StdEncoding.EncodeToString([]byte(tampered)))

	rr := serve(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWrongKindRejected(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: 1, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodGet,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid kind")
}

func TestStaleEventRejected(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Add(-2 * time.Minute).Unix(),
		url: testURL, method: http.MethodGet,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "more than 60 seconds old")
}

func TestURLMismatchRejected(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: "http://example.com/other", method: http.MethodGet,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "URL doesnt match")
}

func TestMethodMismatchRejected(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodDelete,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Method doesnt match")
}

func TestPayloadHashEnforcedWhenPresent(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	body := `{"pubkey":"abc"}`
	sum := sha256.Sum256([]byte(body))

	req := httptest.NewRequest(http.MethodPost, testURL, strings.NewReader(body))
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodPost,
		payload: hex.EncodeToString(sum[:]),
	}))
	rr := serve(req)
	assert.Equal(t, http.StatusOK, rr.Code, "matching payload hash passes")

	req = httptest.NewRequest(http.MethodPost, testURL, strings.NewReader(`{"pubkey":"tampered"}`))
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodPost,
		payload: hex.EncodeToString(sum[:]),
	}))
	rr = serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Body doesnt match")
}

func TestPayloadTagAbsenceSkipsBodyCheck(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	req := httptest.NewRequest(http.MethodPost, testURL, strings.NewReader(`{"anything":"goes"}`))
	req.Header.Set("Authorization", signedHeader(t, sk, eventOpts{
		kind: KindHTTPAuth, createdAt: time.Now().Unix(),
		url: testURL, method: http.MethodPost,
	}))

	rr := serve(req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGarbageHeaderRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, testURL, nil)
	req.Header.Set("Authorization", "Nostr not-base64!!!")

	rr := serve(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
