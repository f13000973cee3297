package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gavel/audit"
)

func TestNewAuditPublisher(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		opts    []PublisherOption
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid configuration",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "audit-trail",
			wantErr: false,
		},
		{
			name:    "nil client",
			client:  nil,
			stream:  "audit-trail",
			wantErr: true,
			errMsg:  "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "",
			wantErr: true,
			errMsg:  "stream cannot be empty",
		},
		{
			name:   "with custom options",
			client: redis.NewClient(&redis.Options{}),
			stream: "audit-trail",
			opts: []PublisherOption{
				WithPublisherBufferSize(200),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			publisher, err := NewAuditPublisher(tt.client, tt.stream, tt.opts...)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, publisher)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, publisher)
				publisher.Close()
			}

			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestAuditPublisher_StartStop(t *testing.T) {
	t.Run("normal start and stop", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		time.Sleep(100 * time.Millisecond)
		publisher.Close()
	})

	t.Run("multiple start calls", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		publisher.Start()
		time.Sleep(100 * time.Millisecond)
		publisher.Close()
	})

	t.Run("multiple close calls", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		time.Sleep(100 * time.Millisecond)
		publisher.Close()
		publisher.Close()
	})
}

func TestAuditPublisher_Log(t *testing.T) {
	t.Run("successful log", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		entry := audit.Entry{
			Kind:   "bid_placed",
			BidID:  uuid.New(),
			Amount: 11000,
		}
		values, err := EncodeMessage(entry)
		require.NoError(t, err)

		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "audit-trail",
			Values: values,
		}).SetVal("1234-0")

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		err = publisher.Log(context.Background(), entry)
		assert.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		publisher.Close()
	})

	t.Run("log to closed publisher", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		time.Sleep(100 * time.Millisecond)
		publisher.Close()

		err = publisher.Log(context.Background(), audit.Entry{Kind: "bid_placed"})
		assert.ErrorIs(t, err, ErrPublisherClosed)
	})

	t.Run("redis error is swallowed", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		entry := audit.Entry{Kind: "bid_placed"}
		values, err := EncodeMessage(entry)
		require.NoError(t, err)

		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "audit-trail",
			Values: values,
		}).SetErr(redis.ErrClosed)

		publisher, err := NewAuditPublisher(client, "audit-trail")
		require.NoError(t, err)

		publisher.Start()
		err = publisher.Log(context.Background(), entry)
		assert.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		publisher.Close()
	})
}

func TestAuditPublisher_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher, err := NewAuditPublisher(client, "audit-trail")
	require.NoError(t, err)
	publisher.Start()
	defer publisher.Close()

	entry := audit.Entry{
		Kind:    "admin_adjust_amount",
		BidID:   uuid.New(),
		ActorID: uuid.New(),
		Amount:  15000,
		Detail:  "keyed amount typo",
		At:      time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, publisher.Log(context.Background(), entry))

	require.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), "audit-trail").Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := client.XRange(context.Background(), "audit-trail", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)

	decoded, err := DecodeMessage[audit.Entry](messages[0].Values)
	require.NoError(t, err)
	assert.Equal(t, entry.Kind, decoded.Kind)
	assert.Equal(t, entry.BidID, decoded.BidID)
	assert.Equal(t, entry.Amount, decoded.Amount)
	assert.Equal(t, entry.Detail, decoded.Detail)
}
