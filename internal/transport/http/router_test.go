package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/suite"

	"walias/internal/domains"
	"walias/internal/model"
	"walias/internal/storage"
	"walias/internal/user"
	"walias/internal/walias"
	"walias/internal/wallet"
	"walias/pkg/requestcontext"
	"walias/pkg/testutil"
)

// stubFetcher serves whatever challenge content the test sets.
type stubFetcher struct {
	content string
	err     error
}

func (f *stubFetcher) Fetch(context.Context, string, string) (string, error) {
	return f.content, f.err
}

type RouterSuite struct {
	suite.Suite
	store   *storage.Memory
	fetcher *stubFetcher
	domains *domains.Service
	router  http.Handler

	admin string
	alice string
	bob   string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.store = storage.NewMemory()
	s.fetcher = &stubFetcher{}

	logger := slog.New(slog.DiscardHandler)
	s.domains = domains.NewService(s.store, s.fetcher, domains.WithLogger(logger))
	waliases := walias.NewService(s.store, walias.FixedOracle{Price: 21}, walias.WithLogger(logger))
	users := user.NewService(s.store, logger)
	wallets := wallet.NewService(s.store, logger, nil)

	inner := NewRouter(Deps{
		Logger:   logger,
		Store:    s.store,
		Domains:  s.domains,
		Waliases: waliases,
		Users:    users,
		Wallets:  wallets,
	})

	// Test shortcut around the signed-assertion middleware: a pubkey in
	// x-test-pubkey lands in the context the way a verified event would.
	s.router = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pk := r.Header.Get("x-test-pubkey"); pk != "" {
			r = r.WithContext(requestcontext.WithPubkey(r.Context(), pk))
		}
		inner.ServeHTTP(w, r)
	})

	s.admin = strings.Repeat("a", 64)
	s.alice = strings.Repeat("b", 64)
	s.bob = strings.Repeat("c", 64)
}

func (s *RouterSuite) do(method, path string, body any, pubkey string) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if pubkey != "" {
		req.Header.Set("x-test-pubkey", pubkey)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) registerDomain(name string) *model.RegisteredDomain {
	rr := s.do(http.MethodPost, "/domains/"+name, map[string]any{
		"relays":      []string{"wss://relay.one"},
		"adminPubkey": s.admin,
	}, "")
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return testutil.UnmarshalResponse[model.RegisteredDomain](s.T(), rr)
}

func (s *RouterSuite) claimWalias(name, domain, pubkey string) {
	rr := s.do(http.MethodPost, "/domains/"+domain+"/walias/"+name, map[string]any{"pubkey": pubkey}, "")
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
}

func (s *RouterSuite) TestHealthz() {
	rr := s.do(http.MethodGet, "/healthz", nil, "")
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *RouterSuite) TestDomainRegistration() {
	s.Run("returns the verification challenge", func() {
		reg := s.registerDomain("newdomain.com")
		s.Equal("newdomain.com", reg.Domain)
		s.True(strings.HasSuffix(reg.VerifyURL, "/.well-known/"+reg.VerifyContent))
		s.Len(reg.VerifyContent, 32)
	})

	s.Run("invalid name is a 400", func() {
		rr := s.do(http.MethodPost, "/domains/invalid%20domain.com", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertReason(s.T(), rr, "Invalid domain name")
	})

	s.Run("subdomain is a 400", func() {
		rr := s.do(http.MethodPost, "/domains/sub.example.com", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertReason(s.T(), rr, "Invalid domain name")
	})

	s.Run("verified domain is a 409", func() {
		reg := s.registerDomain("taken.com")
		s.fetcher.content = reg.VerifyContent
		rr := s.do(http.MethodPost, "/domains/taken.com/verify", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		rr = s.do(http.MethodPost, "/domains/taken.com", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		testutil.AssertReason(s.T(), rr, "Already taken or not available")
	})
}

func (s *RouterSuite) TestDomainLookup() {
	s.Run("unknown domain is a 404", func() {
		rr := s.do(http.MethodGet, "/domains/ghost.com", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
		testutil.AssertReason(s.T(), rr, "Domain not found")
	})

	s.Run("projection carries the derived root pubkey", func() {
		reg := s.registerDomain("example.com")
		rr := s.do(http.MethodGet, "/domains/example.com", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		p := testutil.UnmarshalResponse[model.DomainProjection](s.T(), rr)
		s.Equal(reg.RootPubkey, p.RootPubkey)
		s.False(p.Verified)
	})
}

func (s *RouterSuite) TestDomainUpdate() {
	s.registerDomain("example.com")

	s.Run("no identity is a 401", func() {
		rr := s.do(http.MethodPut, "/domains/example.com", map[string]any{"relays": []string{}}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("stranger is a 403", func() {
		rr := s.do(http.MethodPut, "/domains/example.com", map[string]any{"relays": []string{}}, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("admin updates the relay list", func() {
		rr := s.do(http.MethodPut, "/domains/example.com", map[string]any{
			"relays": []string{"wss://relay.two"},
		}, s.admin)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		p := testutil.UnmarshalResponse[model.DomainProjection](s.T(), rr)
		s.Equal([]string{"wss://relay.two"}, p.Relays)
	})
}

func (s *RouterSuite) TestDomainDelete() {
	s.registerDomain("example.com")
	s.claimWalias("alice", "example.com", s.alice)

	rr := s.do(http.MethodDelete, "/domains/example.com", nil, s.admin)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]bool](s.T(), rr)
	s.True((*resp)["success"])

	rr = s.do(http.MethodGet, "/domains/example.com", nil, "")
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	rr = s.do(http.MethodGet, "/domains/example.com/walias/alice", nil, "")
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *RouterSuite) TestDomainVerify() {
	s.Run("matching challenge verifies once, 208 after", func() {
		reg := s.registerDomain("verify-test.com")
		s.fetcher.content = reg.VerifyContent

		rr := s.do(http.MethodPost, "/domains/verify-test.com/verify", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(true, (*resp)["success"])
		s.Equal(true, (*resp)["verified"])

		rr = s.do(http.MethodPost, "/domains/verify-test.com/verify", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusAlreadyReported)
	})

	s.Run("mismatched challenge is a 409", func() {
		s.registerDomain("mismatch.com")
		s.fetcher.content = "wrong"

		rr := s.do(http.MethodPost, "/domains/mismatch.com/verify", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		testutil.AssertReason(s.T(), rr, "Validation failed")
	})

	s.Run("unknown domain is a 404", func() {
		rr := s.do(http.MethodPost, "/domains/ghost.com/verify", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

func (s *RouterSuite) TestWaliasAvailability() {
	s.registerDomain("example.com")

	s.Run("free name quotes a price with a 404", func() {
		rr := s.do(http.MethodGet, "/domains/example.com/walias/alice", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)

		resp := testutil.UnmarshalResponse[availabilityResponse](s.T(), rr)
		s.True(resp.Available)
		s.Require().NotNil(resp.Quote)
		s.Equal(int64(21), resp.Quote.Price)
	})

	s.Run("taken name returns the owner", func() {
		s.claimWalias("alice", "example.com", s.alice)

		rr := s.do(http.MethodGet, "/domains/example.com/walias/alice", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[availabilityResponse](s.T(), rr)
		s.False(resp.Available)
		s.Equal(s.alice, resp.Pubkey)
	})
}

func (s *RouterSuite) TestWaliasClaim() {
	s.registerDomain("example.com")

	s.Run("claims the name", func() {
		rr := s.do(http.MethodPost, "/domains/example.com/walias/alice", map[string]any{"pubkey": s.alice}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)

		w := testutil.UnmarshalResponse[model.Walias](s.T(), rr)
		s.Equal("alice@example.com", w.ID)
	})

	s.Run("duplicate claim is a 409", func() {
		rr := s.do(http.MethodPost, "/domains/example.com/walias/alice", map[string]any{"pubkey": s.bob}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		testutil.AssertReason(s.T(), rr, "Already taken")
	})

	s.Run("malformed pubkey is a 400", func() {
		rr := s.do(http.MethodPost, "/domains/example.com/walias/bob", map[string]any{"pubkey": "short"}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertReason(s.T(), rr, "Invalid pubkey")
	})
}

func (s *RouterSuite) TestWaliasUpdate() {
	s.registerDomain("example.com")
	s.claimWalias("alice", "example.com", s.alice)

	s.Run("no identity is a 401", func() {
		rr := s.do(http.MethodPut, "/domains/example.com/walias/alice", map[string]any{"pubkey": s.bob}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("stranger is a 403", func() {
		rr := s.do(http.MethodPut, "/domains/example.com/walias/alice", map[string]any{"pubkey": s.bob}, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("owner transfers the name", func() {
		rr := s.do(http.MethodPut, "/domains/example.com/walias/alice", map[string]any{"pubkey": s.bob}, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		w := testutil.UnmarshalResponse[model.Walias](s.T(), rr)
		s.Equal(s.bob, w.Pubkey)
	})

	s.Run("domain admin sets a fresh name", func() {
		rr := s.do(http.MethodPut, "/domains/example.com/walias/carol", map[string]any{
			"pubkey": s.bob, "relays": []string{"wss://relay.one"},
		}, s.admin)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		w := testutil.UnmarshalResponse[model.Walias](s.T(), rr)
		s.Equal("carol@example.com", w.ID)
	})
}

func (s *RouterSuite) TestWaliasDelete() {
	s.registerDomain("example.com")
	s.claimWalias("alice", "example.com", s.alice)

	s.Run("stranger is a 403", func() {
		rr := s.do(http.MethodDelete, "/domains/example.com/walias/alice", nil, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("owner releases the name", func() {
		rr := s.do(http.MethodDelete, "/domains/example.com/walias/alice", nil, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		rr = s.do(http.MethodGet, "/domains/example.com/walias/alice", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

func (s *RouterSuite) TestUsers() {
	s.registerDomain("example.com")
	s.claimWalias("alice", "example.com", s.alice)

	s.Run("claiming created the user record", func() {
		rr := s.do(http.MethodGet, "/users/"+s.alice, nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("unknown pubkey is a 404", func() {
		rr := s.do(http.MethodGet, "/users/"+strings.Repeat("d", 64), nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
		testutil.AssertReason(s.T(), rr, "User not found")
	})

	s.Run("malformed pubkey is a 400", func() {
		rr := s.do(http.MethodGet, "/users/not-a-key", nil, "")
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("self-service relay update", func() {
		rr := s.do(http.MethodPut, "/users/"+s.alice, map[string]any{
			"relays": []string{"wss://relay.two"},
		}, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		u := testutil.UnmarshalResponse[model.User](s.T(), rr)
		s.Equal([]string{"wss://relay.two"}, u.Relays)
	})

	s.Run("updating someone else is a 403", func() {
		rr := s.do(http.MethodPut, "/users/"+s.alice, map[string]any{"relays": []string{}}, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("no identity is a 401", func() {
		rr := s.do(http.MethodPut, "/users/"+s.alice, map[string]any{"relays": []string{}}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
}

func (s *RouterSuite) TestWallets() {
	s.registerDomain("example.com")
	s.claimWalias("alice", "example.com", s.alice)

	var walletID string

	s.Run("attach a wallet to the walias", func() {
		rr := s.do(http.MethodPost, "/domains/example.com/walias/alice/wallets", map[string]any{
			"provider": "nwc",
			"config":   map[string]any{"relay": "wss://relay.one"},
		}, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)

		w := testutil.UnmarshalResponse[model.Wallet](s.T(), rr)
		s.Len(w.ID, 64)
		s.Equal(s.alice, w.Pubkey)
		s.Equal("alice@example.com", w.WaliasID)
		walletID = w.ID
	})

	s.Run("attaching to a missing walias is a 404", func() {
		rr := s.do(http.MethodPost, "/domains/example.com/walias/ghost/wallets", map[string]any{}, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
		testutil.AssertReason(s.T(), rr, "Walias not found")
	})

	s.Run("owner reads the wallet", func() {
		rr := s.do(http.MethodGet, "/domains/example.com/wallets/"+walletID, nil, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		w := testutil.UnmarshalResponse[model.Wallet](s.T(), rr)
		s.Equal("nwc", w.Provider)
		s.Equal("wss://relay.one", w.Config["relay"])
	})

	s.Run("stranger is a 403", func() {
		rr := s.do(http.MethodGet, "/domains/example.com/wallets/"+walletID, nil, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("owner updates priority", func() {
		rr := s.do(http.MethodPut, "/domains/example.com/wallets/"+walletID, map[string]any{
			"priority": 5,
		}, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		w := testutil.UnmarshalResponse[model.Wallet](s.T(), rr)
		s.Equal(5, w.Priority)
		s.Equal("nwc", w.Provider)
	})

	s.Run("owner lists their wallets", func() {
		rr := s.do(http.MethodGet, "/domains/example.com/users/"+s.alice+"/wallets", nil, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		wallets := testutil.UnmarshalResponse[[]model.Wallet](s.T(), rr)
		s.Len(*wallets, 1)
	})

	s.Run("listing someone else's wallets is a 403", func() {
		rr := s.do(http.MethodGet, "/domains/example.com/users/"+s.alice+"/wallets", nil, s.bob)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("owner deletes the wallet", func() {
		rr := s.do(http.MethodDelete, "/domains/example.com/wallets/"+walletID, nil, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		rr = s.do(http.MethodGet, "/domains/example.com/wallets/"+walletID, nil, s.alice)
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

// TestSignedAssertionEndToEnd drives one request through the real
// verification middleware instead of the test shortcut.
func (s *RouterSuite) TestSignedAssertionEndToEnd() {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	s.Require().NoError(err)

	s.registerDomain("example.com")
	s.claimWalias("signed", "example.com", pk)

	body, err := json.Marshal(map[string]any{"relays": []string{"wss://relay.signed"}})
	s.Require().NoError(err)

	ev := nostr.Event{
		Kind:      27235,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Tags: nostr.Tags{
			{"u", "http://example.com/users/" + pk},
			{"method", http.MethodPut},
		},
	}
	s.Require().NoError(ev.Sign(sk))
	raw, err := json.Marshal(ev)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPut, "/users/"+pk, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Nostr "+base64.StdEncoding.EncodeToString(raw))

	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	u := testutil.UnmarshalResponse[model.User](s.T(), rr)
	s.Equal([]string{"wss://relay.signed"}, u.Relays)
}
