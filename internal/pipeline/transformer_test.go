package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

func TestDispatchRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path",
			payload: `{"target":{"kind":"users","user_ids":["a","b"]},"notification":{"title":"Meals added","category":"meals_added","ttl_seconds":120,"badge":2}}`,
		},
		{
			name:                  "Malformed JSON",
			payload:               `not-json`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal dispatch request",
		},
		{
			name:                  "Unknown target kind",
			payload:               `{"target":{"kind":"team"},"notification":{"title":"x"}}`,
			expectError:           true,
			expectedErrorContains: "invalid dispatch target",
		},
		{
			name:                  "Missing title",
			payload:               `{"target":{"kind":"all"},"notification":{"body":"x"}}`,
			expectError:           true,
			expectedErrorContains: "invalid notification",
		},
		{
			name:                  "Unknown category",
			payload:               `{"target":{"kind":"all"},"notification":{"title":"x","category":"party"}}`,
			expectError:           true,
			expectedErrorContains: "unknown category",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}
			req, skip, err := pipeline.DispatchRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, dispatch.UserList("a", "b"), req.Target)

			m := req.Notification.Message()
			assert.Equal(t, 2*time.Minute, m.TTL)
			assert.Equal(t, dispatch.CategoryMealsAdded, m.Category)
			require.NotNil(t, m.Badge)
			assert.Equal(t, 2, *m.Badge)
		})
	}
}
