package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/schemagate/schema"
)

type recordingWriter struct {
	validated int
	failed    int
	closed    bool
	closeErr  error
}

func (r *recordingWriter) WriteValidated(context.Context, string, map[string]any) { r.validated++ }
func (r *recordingWriter) WriteFailed(context.Context, string, map[string]any)    { r.failed++ }
func (r *recordingWriter) Name() string                                           { return "recording" }
func (r *recordingWriter) Close(context.Context) error {
	r.closed = true
	return r.closeErr
}

func TestNop(t *testing.T) {
	var w Writer = Nop{}

	w.WriteValidated(context.Background(), "sensors/temp", map[string]any{"temperature": 21.5})
	w.WriteFailed(context.Background(), "sensors/temp", map[string]any{"errors": nil})

	assert.Equal(t, "nop", w.Name())
	assert.NoError(t, w.Close(context.Background()))
}

func TestMulti_FansOut(t *testing.T) {
	a := &recordingWriter{}
	b := &recordingWriter{}

	w := Multi(a, nil, b)
	ctx := context.Background()

	w.WriteValidated(ctx, "sensors/temp", nil)
	w.WriteValidated(ctx, "sensors/temp", nil)
	w.WriteFailed(ctx, "sensors/temp", nil)

	assert.Equal(t, 2, a.validated)
	assert.Equal(t, 2, b.validated)
	assert.Equal(t, 1, a.failed)
	assert.Equal(t, 1, b.failed)
}

func TestMulti_CloseReturnsFirstError(t *testing.T) {
	a := &recordingWriter{closeErr: assert.AnError}
	b := &recordingWriter{}

	w := Multi(a, b)
	err := w.Close(context.Background())

	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, a.closed)
	assert.True(t, b.closed, "later writers still close after an error")
}

func TestPrimaryFailure(t *testing.T) {
	tests := []struct {
		name       string
		envelope   map[string]any
		wantType   string
		wantColumn string
	}{
		{
			name: "typed_records",
			envelope: map[string]any{
				"errors": []schema.FailureRecord{
					{Column: "temperature", ErrorType: "out_of_range"},
					{Column: "unit", ErrorType: "check_failed:isin"},
				},
			},
			wantType:   "out_of_range",
			wantColumn: "temperature",
		},
		{
			name: "json_round_tripped",
			envelope: map[string]any{
				"errors": []any{
					map[string]any{"column": "unit", "error_type": "wrong_type"},
				},
			},
			wantType:   "wrong_type",
			wantColumn: "unit",
		},
		{
			name:       "empty_records",
			envelope:   map[string]any{"errors": []schema.FailureRecord{}},
			wantType:   "unknown",
			wantColumn: "unknown",
		},
		{
			name:       "missing_errors_key",
			envelope:   map[string]any{"sensor": "temp1"},
			wantType:   "unknown",
			wantColumn: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errorType, column := PrimaryFailure(tt.envelope)
			assert.Equal(t, tt.wantType, errorType)
			assert.Equal(t, tt.wantColumn, column)
		})
	}
}

func TestSubjectTag(t *testing.T) {
	assert.Equal(t, "sensors/temp1", SubjectTag("/sensors/temp1/"))
	assert.Equal(t, "heartbeat", SubjectTag("heartbeat"))
}
