package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func expectedSignature(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

const memoryConfigYAML = `
storage:
  backend: memory
firebase:
  project_id: orders-test
sweep:
  enabled: false
`

func TestReadConfigFileFlattensKeys(t *testing.T) {
	path := writeFile(t, "orderctl.yaml", `
storage:
  backend: sqlite
  sqlite_path: /tmp/orders.db
notifications:
  kafka_brokers:
    - broker-1:9092
    - broker-2:9092
payments:
  confirm_retry_attempts: 5
`)

	values, err := readConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", values["ORDERS_STORAGE_BACKEND"])
	require.Equal(t, "/tmp/orders.db", values["ORDERS_STORAGE_SQLITE_PATH"])
	require.Equal(t, "broker-1:9092,broker-2:9092", values["ORDERS_NOTIFICATIONS_KAFKA_BROKERS"])
	require.Equal(t, "5", values["ORDERS_PAYMENTS_CONFIRM_RETRY_ATTEMPTS"])
}

func TestReadConfigFileMissing(t *testing.T) {
	_, err := readConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWebhookSignWithSecretFlag(t *testing.T) {
	body := `{"type":"payment_intent.succeeded"}`
	payload := writeFile(t, "event.json", body)

	out, err := execute(t, "webhook", "sign", "--secret", "whsec_flag", payload)
	require.NoError(t, err)
	require.Equal(t, expectedSignature("whsec_flag", body), strings.TrimSpace(out))
}

func TestWebhookSignUsesConfiguredSecretAndHeader(t *testing.T) {
	body := `{"id":"evt_1"}`
	payload := writeFile(t, "event.json", body)
	cfg := writeFile(t, "orderctl.yaml", `
payments:
  webhook_secret: whsec_primary,whsec_previous
  signature_header: X-Test-Signature
`)

	out, err := execute(t, "--config", cfg, "webhook", "sign", "--header", payload)
	require.NoError(t, err)
	require.Equal(t, "X-Test-Signature: "+expectedSignature("whsec_primary", body), strings.TrimSpace(out))
}

func TestWebhookSignWithoutSecret(t *testing.T) {
	payload := writeFile(t, "event.json", `{}`)
	cfg := writeFile(t, "orderctl.yaml", "payments:\n  webhook_secret: \"\"\n")

	_, err := execute(t, "--config", cfg, "webhook", "sign", payload)
	require.ErrorContains(t, err, "no signing secret")
}

func TestMigrateUpAndDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "orders.db")

	out, err := execute(t, "migrate", "up", "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "schema version: 1")

	out, err = execute(t, "migrate", "down", "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "schema version: 0")
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	_, err := execute(t, "migrate", "sideways", "--db", filepath.Join(t.TempDir(), "orders.db"))
	require.ErrorContains(t, err, "unknown migrate action")
}

func TestOrderGetMissingOrder(t *testing.T) {
	cfg := writeFile(t, "orderctl.yaml", memoryConfigYAML)

	_, err := execute(t, "--config", cfg, "order", "get", "ord_missing")
	require.ErrorIs(t, err, services.ErrOrderNotFound)
}

func TestSweepRequiresGateway(t *testing.T) {
	cfg := writeFile(t, "orderctl.yaml", memoryConfigYAML)

	_, err := execute(t, "--config", cfg, "sweep")
	require.ErrorContains(t, err, "payment gateway")
}

func TestOrderViewYAML(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	paid := created.Add(2 * time.Minute)
	order := domain.Order{
		ID:       "ord_01",
		UserID:   "user-1",
		Status:   domain.OrderStatusShipped,
		Currency: "JPY",
		Total:    2400,
		Items:    []domain.OrderLineItem{{ProductID: "p1", Name: "Seal", Quantity: 2, UnitPrice: 1200, Total: 2400}},
		Payment: domain.Payment{
			Method:       domain.PaymentMethodGateway,
			Status:       domain.PaymentStatusPaid,
			ConfirmedVia: domain.ConfirmedViaWebhook,
			PaidAt:       &paid,
		},
		Tracking:  &domain.Tracking{Carrier: "yamato", TrackingID: "1234"},
		CreatedAt: created,
		UpdatedAt: paid,
	}

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, newOrderView(order)))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "shipped", decoded["status"])
	require.Equal(t, "2026-03-01T09:30:00Z", decoded["created_at"])
	require.NotContains(t, decoded, "cancelled_at")

	payment, ok := decoded["payment"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "webhook", payment["confirmed_via"])
	require.Equal(t, "2026-03-01T09:32:00Z", payment["paid_at"])

	tracking, ok := decoded["tracking"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "yamato", tracking["carrier"])
}
