package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mu               sync.Mutex
	messages         []kafka.Message
	writeMessagesErr error
	closed           bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeMessagesErr != nil {
		return m.writeMessagesErr
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

type mockTelegramService struct {
	sendNotificationFunc func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
	sent                 []models.TelegramMessage
}

func (m *mockTelegramService) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	m.sent = append(m.sent, msg)
	if m.sendNotificationFunc != nil {
		return m.sendNotificationFunc(ctx, cfg, msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

type publisherFunc func(ctx context.Context, update models.Update) error

func (f publisherFunc) Publish(ctx context.Context, update models.Update) error {
	return f(ctx, update)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sampleUpdate() models.Update {
	return models.Update{
		ID:       "3f0c6e4e-0000-4000-8000-000000000001",
		Source:   "uptime",
		Kind:     models.UpdateSample,
		Value:    "up 3 days",
		HasValue: true,
		Time:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestLog_Publish(t *testing.T) {
	var buf bytes.Buffer
	p := NewLog(zerolog.New(&buf))

	err := p.Publish(context.Background(), sampleUpdate())

	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "uptime", line["source"])
	assert.Equal(t, "sample", line["kind"])
	assert.Equal(t, "up 3 days", line["value"])
	assert.NotContains(t, line, "on")
}

func TestKafka_Publish(t *testing.T) {
	writer := &mockWriter{}
	p := NewKafkaWithWriter(testLogger(), writer, "sshsource")

	err := p.Publish(context.Background(), sampleUpdate())

	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "uptime", string(msg.Key))

	var decoded models.Update
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "up 3 days", decoded.Value)
	assert.Equal(t, models.UpdateSample, decoded.Kind)
	assert.True(t, decoded.Time.Equal(sampleUpdate().Time))
	assert.Equal(t, "update_id", msg.Headers[0].Key)
}

func TestKafka_WriteError(t *testing.T) {
	writer := &mockWriter{writeMessagesErr: errors.New("broker down")}
	p := NewKafkaWithWriter(testLogger(), writer, "sshsource")

	err := p.Publish(context.Background(), sampleUpdate())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write update to kafka")
}

func TestKafka_BreakerOpens(t *testing.T) {
	writer := &mockWriter{writeMessagesErr: errors.New("broker down")}
	p := NewKafkaWithWriter(testLogger(), writer, "sshsource")

	for i := 0; i < 5; i++ {
		require.Error(t, p.Publish(context.Background(), sampleUpdate()))
	}

	err := p.Publish(context.Background(), sampleUpdate())

	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestKafka_Close(t *testing.T) {
	writer := &mockWriter{}
	p := NewKafkaWithWriter(testLogger(), writer, "sshsource")

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestTelegram_IgnoresSamples(t *testing.T) {
	svc := &mockTelegramService{}
	p := NewTelegram(svc, models.TelegramConfig{BotToken: "t", ChatID: "c"})

	require.NoError(t, p.Publish(context.Background(), sampleUpdate()))

	refresh := sampleUpdate()
	refresh.Kind = models.UpdateRefresh
	require.NoError(t, p.Publish(context.Background(), refresh))

	assert.Empty(t, svc.sent)
}

func TestTelegram_SendsActuation(t *testing.T) {
	svc := &mockTelegramService{}
	p := NewTelegram(svc, models.TelegramConfig{BotToken: "t", ChatID: "c"})

	update := models.Update{
		Source:   "relay",
		Kind:     models.UpdateTurnOn,
		Action:   "on",
		On:       true,
		HasState: true,
		Time:     time.Now(),
	}

	require.NoError(t, p.Publish(context.Background(), update))

	require.Len(t, svc.sent, 1)
	assert.Equal(t, "relay", svc.sent[0].Source)
	assert.Equal(t, "on", svc.sent[0].Action)
	assert.True(t, svc.sent[0].On)
}

func TestTelegram_ResultError(t *testing.T) {
	svc := &mockTelegramService{
		sendNotificationFunc: func(_ context.Context, _ models.TelegramConfig, _ models.TelegramMessage) (*models.TelegramResult, error) {
			return &models.TelegramResult{Error: errors.New("status 400")}, nil
		},
	}
	p := NewTelegram(svc, models.TelegramConfig{BotToken: "t", ChatID: "c"})

	err := p.Publish(context.Background(), models.Update{Source: "relay", Kind: models.UpdateFailure, Action: "on"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestMulti_PublishesToAll(t *testing.T) {
	var calls []string
	first := publisherFunc(func(context.Context, models.Update) error {
		calls = append(calls, "first")
		return errors.New("first failed")
	})
	second := publisherFunc(func(context.Context, models.Update) error {
		calls = append(calls, "second")
		return nil
	})

	err := Multi{first, second}.Publish(context.Background(), sampleUpdate())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestMulti_Close(t *testing.T) {
	writer := &mockWriter{}
	m := Multi{NewLog(testLogger()), NewKafkaWithWriter(testLogger(), writer, "t"), Discard{}}

	require.NoError(t, m.Close())
	assert.True(t, writer.closed)
}
