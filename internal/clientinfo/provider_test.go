package clientinfo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	addr    string
	err     error
}

func (f *fakeFetcher) ClientIP(_ context.Context) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.addr, f.err
}

func TestFetchOnceCachesAddress(t *testing.T) {
	f := &fakeFetcher{addr: "203.0.113.9"}
	p := NewProvider(f, WithLogger(zap.NewNop()))

	p.FetchOnce(context.Background())
	<-p.Done()

	addr, ok := p.Address()
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.9", addr)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestFetchOnceSingleCallAcrossConcurrentInvocations(t *testing.T) {
	f := &fakeFetcher{addr: "203.0.113.9", release: make(chan struct{})}
	p := NewProvider(f, WithLogger(zap.NewNop()))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.FetchOnce(context.Background())
		}()
	}
	wg.Wait()

	close(f.release)
	<-p.Done()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestFetchFailureLeavesCacheEmptyAndNeverRetries(t *testing.T) {
	f := &fakeFetcher{err: eris.New("timeout")}
	p := NewProvider(f, WithLogger(zap.NewNop()))

	p.FetchOnce(context.Background())
	<-p.Done()

	_, ok := p.Address()
	assert.False(t, ok)

	// Failure is terminal for the page lifetime.
	p.FetchOnce(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestUserAgent(t *testing.T) {
	p := NewProvider(&fakeFetcher{}, WithUserAgent("Mozilla/5.0"), WithLogger(zap.NewNop()))

	ua, ok := p.UserAgent()
	assert.True(t, ok)
	assert.Equal(t, "Mozilla/5.0", ua)

	p.SetUserAgent("curl/8.0")
	ua, _ = p.UserAgent()
	assert.Equal(t, "curl/8.0", ua)

	// Empty never overwrites.
	p.SetUserAgent("")
	ua, _ = p.UserAgent()
	assert.Equal(t, "curl/8.0", ua)
}

func TestUserAgentAbsent(t *testing.T) {
	p := NewProvider(&fakeFetcher{}, WithLogger(zap.NewNop()))
	_, ok := p.UserAgent()
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	f := &fakeFetcher{addr: "203.0.113.9"}
	p := NewProvider(f, WithLogger(zap.NewNop()))

	p.FetchOnce(context.Background())
	<-p.Done()
	p.Reset()

	_, ok := p.Address()
	assert.False(t, ok)

	p.FetchOnce(context.Background())
	<-p.Done()
	assert.Equal(t, int32(2), f.calls.Load())
	addr, _ := p.Address()
	assert.Equal(t, "203.0.113.9", addr)
}
