package services

import (
	"context"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

func TestIntegrationService_ConnectFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, err := h.integrations.Select(ctx, 1, testSubject, testVendor)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if in.Status != integration.StatusSelected {
		t.Fatalf("Select() status = %s, want selected", in.Status)
	}

	consent, err := h.integrations.BeginAuthorization(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	state := stateFrom(t, consent)
	if got := h.reload(t, in.ID); got.Status != integration.StatusAuthorizing {
		t.Fatalf("status after BeginAuthorization = %s, want authorizing", got.Status)
	}

	connected, err := h.integrations.CompleteAuthorization(ctx, "code-1", state)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if connected.Status != integration.StatusConnected {
		t.Errorf("status = %s, want connected", connected.Status)
	}
	if connected.VendorUserID != "vendor-user" {
		t.Errorf("vendor user id = %q", connected.VendorUserID)
	}
	c, err := h.creds.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if c.AccessToken != "access-code-1" {
		t.Errorf("access token = %q", c.AccessToken)
	}
}

func TestIntegrationService_SelectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.connect(t, 1)

	got, err := h.integrations.Select(ctx, 1, testSubject, testVendor)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got.ID != in.ID || got.Status != integration.StatusConnected {
		t.Errorf("Select() on connected = %+v", got)
	}

	_, err = h.integrations.Select(ctx, 1, testSubject, "garmin")
	if !errors.IsCode(err, errors.ErrCodeUnsupportedVendor) {
		t.Errorf("Select() unknown vendor error = %v", err)
	}
	_, err = h.integrations.Select(ctx, 2, "", testVendor)
	if !errors.IsCode(err, errors.ErrCodeBadRequest) {
		t.Errorf("Select() without subject error = %v", err)
	}
}

func TestIntegrationService_BeginRequiresSelection(t *testing.T) {
	h := newHarness(t)
	_, err := h.integrations.BeginAuthorization(context.Background(), 1, testVendor)
	if err == nil {
		t.Fatal("BeginAuthorization() without selection should fail")
	}
}

func TestIntegrationService_StateRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, err := h.integrations.Select(ctx, 1, testSubject, testVendor)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	consent, err := h.integrations.BeginAuthorization(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	state := stateFrom(t, consent)

	tests := []struct {
		name  string
		state string
	}{
		{name: "empty", state: ""},
		{name: "garbage", state: "not-a-state"},
		{name: "tampered", state: state[:len(state)-2] + "xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.integrations.CompleteAuthorization(ctx, "code", tt.state)
			if !errors.IsCode(err, errors.ErrCodeAuthStateInvalid) {
				t.Fatalf("CompleteAuthorization() error = %v, want AUTHORIZATION_STATE_INVALID", err)
			}
		})
	}

	if got := h.reload(t, in.ID); got.Status != integration.StatusAuthorizing {
		t.Errorf("rejected states changed status to %s", got.Status)
	}
	if len(h.vendor.Exchanges()) != 0 {
		t.Errorf("rejected states reached the vendor: %v", h.vendor.Exchanges())
	}
	if h.creds.Has(in.ID) {
		t.Error("rejected states stored a credential")
	}

	// The genuine state still works after the rejections.
	if _, err := h.integrations.CompleteAuthorization(ctx, "code", state); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
}

func TestIntegrationService_StateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, _ := h.integrations.Select(ctx, 1, testSubject, testVendor)
	consent, err := h.integrations.BeginAuthorization(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	state := stateFrom(t, consent)

	if _, err := h.integrations.CompleteAuthorization(ctx, "code-1", state); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	putsBefore := h.creds.Puts

	_, err = h.integrations.CompleteAuthorization(ctx, "code-2", state)
	if !errors.IsCode(err, errors.ErrCodeAuthStateInvalid) {
		t.Fatalf("reused state error = %v, want AUTHORIZATION_STATE_INVALID", err)
	}
	if h.creds.Puts != putsBefore {
		t.Error("reused state overwrote the credential")
	}
	if got := h.vendor.Exchanges(); len(got) != 1 {
		t.Errorf("exchanges = %v, want one", got)
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusConnected {
		t.Errorf("status = %s, want connected", got.Status)
	}
}

func TestIntegrationService_ExchangeFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vendor.ExchangeError = errors.VendorTransient(testVendor, nil)

	in, _ := h.integrations.Select(ctx, 1, testSubject, testVendor)
	consent, err := h.integrations.BeginAuthorization(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	_, err = h.integrations.CompleteAuthorization(ctx, "code", stateFrom(t, consent))
	if err == nil {
		t.Fatal("CompleteAuthorization() should fail when the exchange fails")
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusSelected {
		t.Errorf("status = %s, want selected", got.Status)
	}
	if h.creds.Has(in.ID) {
		t.Error("failed exchange stored a credential")
	}
}

func TestIntegrationService_FailAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, _ := h.integrations.Select(ctx, 1, testSubject, testVendor)
	consent, err := h.integrations.BeginAuthorization(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	state := stateFrom(t, consent)

	if err := h.integrations.FailAuthorization(ctx, state, "access_denied"); err != nil {
		t.Fatalf("FailAuthorization() error = %v", err)
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusSelected {
		t.Errorf("status = %s, want selected", got.Status)
	}

	// The state was consumed by the failure.
	_, err = h.integrations.CompleteAuthorization(ctx, "code", state)
	if !errors.IsCode(err, errors.ErrCodeAuthStateInvalid) {
		t.Errorf("CompleteAuthorization() after failure error = %v", err)
	}
}

func TestIntegrationService_AuthorizationTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, _ := h.integrations.Select(ctx, 1, testSubject, testVendor)
	if _, err := h.integrations.BeginAuthorization(ctx, 1, testVendor); err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	h.integrations.now = func() time.Time { return time.Now().Add(time.Hour) }
	got, err := h.integrations.Get(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != integration.StatusSelected {
		t.Errorf("Get() status = %s, want selected after the window", got.Status)
	}
	if stored := h.reload(t, in.ID); stored.Status != integration.StatusSelected {
		t.Errorf("stored status = %s, want selected", stored.Status)
	}
}

func TestIntegrationService_Disconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.connect(t, 1)

	if err := h.integrations.Disconnect(ctx, 1, testVendor); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	_, err := h.creds.Get(ctx, in.ID)
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("credential Get() after disconnect error = %v, want NOT_FOUND", err)
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", got.Status)
	}

	// A disconnected integration can be selected again.
	again, err := h.integrations.Select(ctx, 1, testSubject, testVendor)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if again.Status != integration.StatusSelected {
		t.Errorf("Select() after disconnect status = %s", again.Status)
	}

	err = h.integrations.Disconnect(ctx, 9, testVendor)
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Disconnect() unknown error = %v, want NOT_FOUND", err)
	}
}

// churningRepo loses every status transition, as if another writer kept
// moving the integration.
type churningRepo struct {
	integration.Repository
}

func (r churningRepo) Transition(ctx context.Context, id int64, from, to integration.Status, authorizingUntil *time.Time) (bool, error) {
	return false, nil
}

func TestIntegrationService_DisconnectLosesEveryRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.connect(t, 1)

	svc := NewIntegrationService(churningRepo{h.repo}, h.creds, h.jobs, h.registry, h.states, h.signer, h.cfg.RefreshMargin, logger.Nop())
	err := svc.Disconnect(ctx, 1, testVendor)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Fatalf("Disconnect() error = %v, want CONFLICT", err)
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusConnected {
		t.Errorf("status = %s, want connected", got.Status)
	}

	// Once the race clears the disconnect goes through.
	if err := h.integrations.Disconnect(ctx, 1, testVendor); err != nil {
		t.Fatalf("Disconnect() retry error = %v", err)
	}
	if got := h.reload(t, in.ID); got.Status != integration.StatusDisconnected {
		t.Errorf("status after retry = %s, want disconnected", got.Status)
	}
}

func TestIntegrationService_Status(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.integrations.Status(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != integration.StatusNotSelected {
		t.Errorf("Status() = %s, want not_selected", view.Status)
	}

	in := h.connect(t, 1)
	if _, err := h.repo.AdvanceCheckpoint(ctx, in.ID, exampleDay); err != nil {
		t.Fatalf("AdvanceCheckpoint() error = %v", err)
	}
	h.integrations.now = func() time.Time { return time.Now().Add(58 * time.Minute) }

	view, err = h.integrations.Status(ctx, 1, testVendor)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != integration.StatusConnected {
		t.Errorf("Status() = %s, want connected", view.Status)
	}
	if view.Checkpoint != "2024-12-19" {
		t.Errorf("Checkpoint = %q", view.Checkpoint)
	}
	if !view.CredentialNearExpiry {
		t.Error("credential two minutes from expiry not reported as near expiry")
	}

	views, err := h.integrations.List(ctx, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 1 || views[0].Vendor != testVendor {
		t.Errorf("List() = %+v", views)
	}
}
