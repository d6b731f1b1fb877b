package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     io.Closer
		wantLogged bool
	}{
		{
			name:       "nil closer",
			closer:     nil,
			wantLogged: false,
		},
		{
			name:       "successful close",
			closer:     &mockCloser{},
			wantLogged: false,
		},
		{
			name:       "close with error",
			closer:     &mockCloser{closeErr: errors.New("close failed")},
			wantLogged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			DeferClose(logger, tt.closer, "failed to close metrics server")

			if tt.closer != nil {
				assert.True(t, tt.closer.(*mockCloser).closed, "Close() was not called")
			}

			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
			if tt.wantLogged {
				assert.Contains(t, buf.String(), "failed to close metrics server")
				assert.Contains(t, buf.String(), "close failed")
			}
		})
	}
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() {
		Must(nil, "initialization")
	})

	assert.PanicsWithValue(t, "initialization: failed", func() {
		Must(errors.New("failed"), "initialization")
	})
}
