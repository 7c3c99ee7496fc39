package twilio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// ErrDisabled is returned when no Twilio credentials were configured.
var ErrDisabled = errors.New("twilio call control is disabled")

const statusCompleted = "completed"

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// CallControl issues REST commands against live calls
type CallControl struct {
	calls   callUpdater
	enabled bool
}

// NewCallControl creates a call control client. If accountSID or authToken
// is empty, the client is disabled.
func NewCallControl(accountSID, authToken string) *CallControl {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, call control disabled")
		return &CallControl{enabled: false}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return &CallControl{calls: client.Api, enabled: true}
}

func (c *CallControl) Enabled() bool {
	return c != nil && c.enabled
}

// Hangup completes an in-progress call at the provider.
func (c *CallControl) Hangup(ctx context.Context, callSid string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &api.UpdateCallParams{}
	params.SetStatus(statusCompleted)

	resp, err := c.calls.UpdateCall(callSid, params)
	if err != nil {
		return fmt.Errorf("hang up call %s: %w", callSid, err)
	}

	status := ""
	if resp != nil && resp.Status != nil {
		status = *resp.Status
	}
	logger.Base().Info("Call hung up via provider", zap.String("call_sid", callSid), zap.String("status", status))
	return nil
}
