package mq

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testDueEvent struct {
	LoanID uint      `json:"loan_id"`
	Kind   string    `json:"kind"`
	DueAt  time.Time `json:"due_at"`
}

func TestEncode(t *testing.T) {
	dueAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	msg, err := Encode(testDueEvent{LoanID: 42, Kind: "overdue", DueAt: dueAt})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.JSONEq(t, `{"loan_id":42,"kind":"overdue","due_at":"2024-04-01T00:00:00Z"}`, string(msg.Body))
	assert.False(t, msg.Timestamp.IsZero())
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := Encode(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}

// TestPublisher_Publish 需要本地RabbitMQ，设置RABBITMQ_URL后运行
func TestPublisher_Publish(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("未设置RABBITMQ_URL，跳过RabbitMQ集成测试")
	}

	publisher, err := NewPublisher(url, "circulation.test.events", "topic", zap.NewNop())
	require.NoError(t, err)
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = publisher.Publish(ctx, "loan.due_soon", testDueEvent{LoanID: 1, Kind: "due_soon"})
	assert.NoError(t, err)
}

func TestPublisher_PingClosed(t *testing.T) {
	p := &Publisher{}
	assert.Error(t, p.Ping(context.Background()))
}
