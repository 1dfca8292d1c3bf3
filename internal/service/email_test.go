package service_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/service"
)

func TestEmailService_WithoutProviderLogsMessages(t *testing.T) {
	var buf bytes.Buffer
	logger.InitializeWithWriter(&buf, "info", "text")
	t.Cleanup(func() { logger.Initialize("info", "text") })

	svc := service.NewEmailService("", "library@example.org", "Municipal Library")
	loan := &domain.Loan{ID: 3, StartDate: day(0), EndDate: day(4), DaysOverdue: 12}

	require.NoError(t, svc.SendReservationApproved(context.Background(), "ana@example.org", "Ana", "Emma", loan))
	assert.Contains(t, buf.String(), "Your reservation of Emma was approved")
	assert.Contains(t, buf.String(), "2026-03-02 to 2026-03-06")

	buf.Reset()
	require.NoError(t, svc.SendReservationRejected(context.Background(), "ana@example.org", "Ana", "Emma", "damaged"))
	assert.Contains(t, buf.String(), "Reason: damaged")

	buf.Reset()
	require.NoError(t, svc.SendSanctionNotice(context.Background(), "ana@example.org", "Ana", "overdue loan of 45 days for Emma", day(92)))
	assert.Contains(t, buf.String(), "until 2026-06-02")

	buf.Reset()
	require.NoError(t, svc.SendOverdueReminder(context.Background(), "ana@example.org", "Ana", "Emma", loan))
	assert.Contains(t, buf.String(), "12 days overdue")
	assert.Contains(t, buf.String(), "to=ana@example.org")
}
