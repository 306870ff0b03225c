package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/events"
)

type stubStore struct {
	events []events.Event
	err    error
}

func (s *stubStore) InsertEvent(_ context.Context, ev events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	payload := map[string]any{"bill_id": "b-1", "total_amount": "212.40"}
	event, err := bus.Emit(context.Background(), events.TopicBillCreated, "b-1", payload)
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	require.Equal(t, events.TopicBillCreated, store.events[0].Topic)
	require.JSONEq(t, `{"bill_id":"b-1","total_amount":"212.40"}`, string(store.events[0].Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)
	require.False(t, event.OccurredAt.IsZero())
}

func TestEmitWithoutStore(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicBillPaid, "b-2", nil)
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	require.JSONEq(t, `{}`, string(notifier.events[0].Payload))
}

func TestEmitValidation(t *testing.T) {
	bus := events.Bus{}
	_, err := bus.Emit(context.Background(), " ", "b-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), "bill.deleted", "b-1", nil)
	require.ErrorContains(t, err, "unknown topic")
	_, err = bus.Emit(context.Background(), events.TopicBillPaid, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicBillPaid, "b-1", "{not json")
	require.Error(t, err)
}

func TestEmitStoreFailureSkipsNotifiers(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{err: errors.New("db down")}, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicBillUpdated, "b-3", nil)
	require.Error(t, err)
	require.Empty(t, notifier.events)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	first := &captureNotifier{err: errors.New("kafka down")}
	second := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{first, second}}

	ev, err := bus.Emit(context.Background(), events.TopicBillPaymentRecorded, "b-4", map[string]string{"payment_id": "p-1"})
	require.ErrorContains(t, err, "kafka down")
	require.NotEmpty(t, ev.ID)
	require.Len(t, second.events, 1)
}

func TestKafkaNotifierPublishesKeyedMessage(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var ev events.Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.Topic != events.TopicBillPaid || ev.AggregateID != "b-9" {
			return errors.New("unexpected event " + ev.Topic + "/" + ev.AggregateID)
		}
		return nil
	})
	t.Cleanup(func() { require.NoError(t, producer.Close()) })

	bus := events.Bus{Notifiers: []events.Notifier{events.KafkaNotifier{Producer: producer}}}
	_, err := bus.Emit(context.Background(), events.TopicBillPaid, "b-9", map[string]string{"due_amount": "0.00"})
	require.NoError(t, err)
}

func TestKafkaNotifierSurfacesProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	t.Cleanup(func() { _ = producer.Close() })

	err := events.KafkaNotifier{Producer: producer, Topic: "billing"}.Notify(context.Background(), events.Event{Topic: events.TopicBillCreated, AggregateID: "b-1", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := events.LogNotifier{Logger: zerolog.New(&buf)}
	bus := events.Bus{Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicBillCreated, "b-5", map[string]string{"customer_id": "c-1"})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "bill.created", line["topic"])
	require.Equal(t, "b-5", line["bill_id"])
}
