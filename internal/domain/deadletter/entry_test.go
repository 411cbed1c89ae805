package deadletter

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exhausted struct{ retries int }

func (e exhausted) Error() string { return "retries exhausted" }
func (e exhausted) Retries() int  { return e.retries }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"missing field", &mapping.MappingError{Kind: mapping.KindMissingRequiredField, Field: "sku"}, KindMissingRequiredField},
		{"transform", &mapping.MappingError{Kind: mapping.KindTransformFailed, Field: "price", Cause: errors.New("x")}, KindTransformFailed},
		{"validation", &validation.Error{Entity: integration.EntityOrder}, KindValidation},
		{"exhausted", fmt.Errorf("load: %w", exhausted{retries: 3}), KindRetriesExhausted},
		{"permanent", &integration.RemoteError{Op: "upsert", StatusCode: 422, Kind: integration.ErrPermanentRemote}, KindPermanentRemote},
		{"unauthorized", integration.ErrUnauthorized, KindPermanentRemote},
		{"transient", integration.ErrRateLimited, KindTransientRemote},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewEntry(t *testing.T) {
	src := record.Record{"sku": "ABC-1", "nested": map[string]any{"a": 1}}

	e := NewEntry(integration.EntityProduct, src, exhausted{retries: 1})

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, integration.EntityProduct, e.Entity)
	assert.Equal(t, KindRetriesExhausted, e.ErrorKind)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, "retries exhausted", e.Error)
	assert.WithinDuration(t, time.Now(), e.FailedAt, time.Minute)

	src["nested"].(map[string]any)["a"] = 2
	assert.Equal(t, 1, e.OriginalData["nested"].(map[string]any)["a"], "entry keeps its own copy")
}

func TestEntry_MarkRetried(t *testing.T) {
	e := NewEntry(integration.EntityOrder, record.Record{}, &validation.Error{Entity: integration.EntityOrder})
	require.Equal(t, 0, e.RetryCount)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.MarkRetried(integration.ErrPermanentRemote, at)

	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, at, e.FailedAt)
	assert.Equal(t, KindPermanentRemote, e.ErrorKind)
	assert.Contains(t, e.Error, "permanent")
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now().UTC()
	e := &Entry{Entity: integration.EntityOrder, ErrorKind: KindValidation, FailedAt: now}
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{Entity: integration.EntityOrder, Kind: KindValidation, Since: &before}.Matches(e))
	assert.False(t, Filter{Entity: integration.EntityProduct}.Matches(e))
	assert.False(t, Filter{Kind: KindTransformFailed}.Matches(e))
	assert.False(t, Filter{Since: &after}.Matches(e))
	assert.True(t, Filter{Before: &after}.Matches(e))
	assert.False(t, Filter{Before: &before}.Matches(e))
	assert.False(t, Filter{Before: &now}.Matches(e))
}

func TestParseErrorKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseErrorKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseErrorKind("timeout")
	assert.Error(t, err)
}
