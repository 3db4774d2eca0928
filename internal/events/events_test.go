package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	routingKey  string
	body        []byte
	contentType string
	err         error
}

func (f *fakeBroker) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	f.routingKey, f.body, f.contentType = routingKey, body, contentType
	return f.err
}

func TestBrokerPublisher_Publish(t *testing.T) {
	tests := []struct {
		name      string
		brokerErr error
		wantErr   bool
	}{
		{name: "published with type as routing key"},
		{name: "broker failure surfaces", brokerErr: errors.New("channel closed"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{err: tt.brokerErr}
			p := NewBrokerPublisher(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

			err := p.Publish(context.Background(), Event{Type: ValidationCompleted, ApplicationID: "APP-1"})

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "validation.completed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ValidationCompleted, broker.routingKey)
			assert.Equal(t, "application/json", broker.contentType)

			var ev Event
			require.NoError(t, json.Unmarshal(broker.body, &ev))
			assert.Equal(t, "APP-1", ev.ApplicationID)
			assert.False(t, ev.OccurredAt.IsZero())
		})
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Publish(context.Background(), Event{Type: JobEnqueued})
	_ = r.Publish(context.Background(), Event{Type: GoldenCompleted})

	assert.Equal(t, []string{JobEnqueued, GoldenCompleted}, r.Types())
}
