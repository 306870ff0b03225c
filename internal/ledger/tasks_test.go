package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger/mocks"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

type statusSpy struct {
	statuses map[string]string
}

func (s *statusSpy) SetCreditStatus(_ context.Context, paymentID, status string) error {
	if s.statuses == nil {
		s.statuses = map[string]string{}
	}
	s.statuses[paymentID] = status
	return nil
}

type failureSpy struct {
	payloads []ledger.CreditPayload
}

func (f *failureSpy) CreditFailed(_ context.Context, p ledger.CreditPayload, _ error) {
	f.payloads = append(f.payloads, p)
}

func samplePayload() ledger.CreditPayload {
	return ledger.CreditPayload{
		BillID:    "bill-1",
		PaymentID: "pay-1",
		AccountID: "ACC-9",
		Amount:    money.MustParse("100.00"),
	}
}

func TestNewCreditTask(t *testing.T) {
	task, err := ledger.NewCreditTask(samplePayload(), 5)
	require.NoError(t, err)
	require.Equal(t, ledger.TypeCreditAccount, task.Type())

	var decoded ledger.CreditPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, samplePayload(), decoded)

	_, err = ledger.NewCreditTask(ledger.CreditPayload{PaymentID: "p"}, 5)
	require.Error(t, err)
}

func TestEnqueueCreditCollapsesDuplicates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	enqueuer := ledger.Enqueuer{Client: client, MaxRetry: 3}
	require.NoError(t, enqueuer.EnqueueCredit(context.Background(), samplePayload()))
	require.NoError(t, enqueuer.EnqueueCredit(context.Background(), samplePayload()))

	pending, err := mr.List("asynq:{ledger}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "credit:pay-1", pending[0])
}

func TestEnqueueCreditWithoutClient(t *testing.T) {
	require.Error(t, ledger.Enqueuer{}.EnqueueCredit(context.Background(), samplePayload()))
}

func TestTaskHandlerCredits(t *testing.T) {
	ctrl := gomock.NewController(t)
	creditor := mocks.NewMockCreditor(ctrl)
	creditor.EXPECT().Credit(gomock.Any(), "ACC-9", money.MustParse("100.00"), "pay-1").Return(nil)

	status := &statusSpy{}
	handler := ledger.TaskHandler{Creditor: creditor, Status: status, Logger: zerolog.Nop()}
	task, err := ledger.NewCreditTask(samplePayload(), 3)
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	require.Equal(t, ledger.StatusCredited, status.statuses["pay-1"])
}

func TestTaskHandlerPermanentFailureSkipsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	creditor := mocks.NewMockCreditor(ctrl)
	creditor.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.Join(ledger.ErrPermanent, errors.New("account closed")))

	status := &statusSpy{}
	failures := &failureSpy{}
	handler := ledger.TaskHandler{Creditor: creditor, Status: status, Failures: failures, Logger: zerolog.Nop()}
	task, err := ledger.NewCreditTask(samplePayload(), 3)
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, ledger.StatusFailed, status.statuses["pay-1"])
	require.Len(t, failures.payloads, 1)
}

func TestTaskHandlerTransientFailureRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	creditor := mocks.NewMockCreditor(ctrl)
	creditor.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("ledger unavailable"))

	status := &statusSpy{}
	failures := &failureSpy{}
	handler := ledger.TaskHandler{Creditor: creditor, Status: status, Failures: failures, Logger: zerolog.Nop()}
	task, err := ledger.NewCreditTask(samplePayload(), 3)
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, status.statuses)
	require.Empty(t, failures.payloads)
}

func TestTaskHandlerRejectsMalformedPayload(t *testing.T) {
	handler := ledger.TaskHandler{Logger: zerolog.Nop()}
	err := handler.ProcessTask(context.Background(), asynq.NewTask(ledger.TypeCreditAccount, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
