package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

type fetchFunc func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error)

func (f fetchFunc) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return f(ctx, req)
}

type detectorFunc func(crawler.FetchResponse) bool

func (f detectorFunc) ShouldPromote(resp crawler.FetchResponse) bool { return f(resp) }

func staticBody(body string) fetchFunc {
	return func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}, nil
	}
}

func TestPromotingFetcherKeepsStaticResponse(t *testing.T) {
	t.Parallel()

	headlessCalled := false
	p := NewPromotingFetcher(staticBody("static"), fetchFunc(func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
		headlessCalled = true
		return crawler.FetchResponse{}, nil
	}), detectorFunc(func(crawler.FetchResponse) bool { return false }), nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body))
	require.False(t, headlessCalled)
}

func TestPromotingFetcherRendersFlaggedPages(t *testing.T) {
	t.Parallel()

	p := NewPromotingFetcher(staticBody(`<div id="root"></div>`), staticBody("rendered"),
		detectorFunc(func(crawler.FetchResponse) bool { return true }), nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
}

func TestPromotingFetcherFallsBackWhenRenderFails(t *testing.T) {
	t.Parallel()

	p := NewPromotingFetcher(staticBody("static"), fetchFunc(func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, errors.New("chrome missing")
	}), detectorFunc(func(crawler.FetchResponse) bool { return true }), nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body))
}

func TestPromotingFetcherPropagatesStaticError(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial failed")
	p := NewPromotingFetcher(fetchFunc(func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, boom
	}), staticBody("rendered"), detectorFunc(func(crawler.FetchResponse) bool { return true }), nil)

	_, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, boom)
}
