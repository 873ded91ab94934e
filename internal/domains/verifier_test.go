package domains

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type HTTPFetcherSuite struct {
	suite.Suite
}

func TestHTTPFetcherSuite(t *testing.T) {
	suite.Run(t, new(HTTPFetcherSuite))
}

// fetcherFor points the fetcher at a local test server instead of the
// domain's real well-known URL.
func (s *HTTPFetcherSuite) fetcherFor(srv *httptest.Server) *HTTPFetcher {
	f := NewHTTPFetcher(2 * time.Second)
	f.urlFor = func(_, verifyKey string) string {
		return srv.URL + "/.well-known/" + verifyKey
	}
	return f
}

func (s *HTTPFetcherSuite) TestFetch() {
	s.Run("returns the published body", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("/.well-known/deadbeef", r.URL.Path)
			w.Write([]byte("deadbeef\n"))
		}))
		defer srv.Close()

		got, err := s.fetcherFor(srv).Fetch(context.Background(), "example.com", "deadbeef")
		s.Require().NoError(err)
		s.Equal("deadbeef\n", got)
	})

	s.Run("non-2xx maps to ErrChallengeUnavailable", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := s.fetcherFor(srv).Fetch(context.Background(), "example.com", "deadbeef")
		s.Require().ErrorIs(err, ErrChallengeUnavailable)
	})

	s.Run("unreachable server is a transport error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		f := s.fetcherFor(srv)
		srv.Close()

		_, err := f.Fetch(context.Background(), "example.com", "deadbeef")
		s.Require().Error(err)
		s.NotErrorIs(err, ErrChallengeUnavailable)
	})

	s.Run("oversized bodies are truncated", func() {
		big := make([]byte, 10000)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write(big)
		}))
		defer srv.Close()

		got, err := s.fetcherFor(srv).Fetch(context.Background(), "example.com", "deadbeef")
		s.Require().NoError(err)
		s.Len(got, 4096)
	})
}
