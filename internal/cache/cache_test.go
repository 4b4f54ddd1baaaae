package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliossim/helios/internal/iface"
	"github.com/heliossim/helios/pkg/schema"
)

func signalSet(origin string, values ...float64) *iface.Interface {
	return iface.NewSignals(origin, []*schema.Signal{
		{Label: "x", Timestamps: []float64{0}, Values: values[:1]},
	})
}

func TestInternSharesEqualContent(t *testing.T) {
	s := New()

	a, reused := s.Intern(signalSet("/run/a.csv", 1.0))
	assert.False(t, reused)

	b, reused := s.Intern(signalSet("/run/b.sig.json", 1.0))
	assert.True(t, reused)
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())

	hits, misses := s.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestInternDistinctContent(t *testing.T) {
	s := New()

	s.Intern(signalSet("a", 1.0))
	_, reused := s.Intern(signalSet("b", 2.0))
	assert.False(t, reused)
	assert.Equal(t, 2, s.Len())
}

func TestGet(t *testing.T) {
	s := New()
	in, _ := s.Intern(signalSet("a", 1.0))

	got, err := s.Get(in.Hash())
	require.NoError(t, err)
	assert.Same(t, in, got)

	_, err = s.Get("deadbeef")
	require.Error(t, err)
	var herr *schema.HeliosError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, schema.ErrCodeNotFound, herr.Code)
}

func TestInternConcurrent(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	results := make([]*iface.Interface, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.Intern(signalSet("concurrent", 3.0))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}
