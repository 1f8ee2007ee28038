package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient returns canned responses in order.
type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Invoke(ctx context.Context, req Request) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", fmt.Errorf("%w: no canned response", ErrUnavailable)
}

func TestFailoverPrimarySucceeds(t *testing.T) {
	primary := &fakeClient{responses: []string{"from primary"}}
	fallback := &fakeClient{responses: []string{"from fallback"}}
	fc := NewFailoverClient(primary, fallback, zap.NewNop())

	content, err := fc.Invoke(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "from primary", content)
	assert.Zero(t, fallback.calls)
}

func TestFailoverOnUnavailable(t *testing.T) {
	primary := &fakeClient{errs: []error{fmt.Errorf("boom: %w", ErrUnavailable)}}
	fallback := &fakeClient{responses: []string{"from fallback"}}
	fc := NewFailoverClient(primary, fallback, zap.NewNop())

	content, err := fc.Invoke(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", content)
}

func TestNoFailoverOnMalformed(t *testing.T) {
	primary := &fakeClient{errs: []error{fmt.Errorf("bad json: %w", ErrMalformed)}}
	fallback := &fakeClient{responses: []string{"from fallback"}}
	fc := NewFailoverClient(primary, fallback, zap.NewNop())

	_, err := fc.Invoke(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Zero(t, fallback.calls)
}

func TestFailoverBothFailReportsPrimaryError(t *testing.T) {
	primary := &fakeClient{errs: []error{fmt.Errorf("primary down: %w", ErrUnavailable)}}
	fallback := &fakeClient{errs: []error{fmt.Errorf("fallback down: %w", ErrUnavailable)}}
	fc := NewFailoverClient(primary, fallback, zap.NewNop())

	_, err := fc.Invoke(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
}

func TestFailoverNilFallback(t *testing.T) {
	primary := &fakeClient{errs: []error{fmt.Errorf("down: %w", ErrUnavailable)}}
	fc := NewFailoverClient(primary, nil, zap.NewNop())

	_, err := fc.Invoke(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.ErrorIs(t, err, ErrUnavailable)
}
