package model

import (
	"encoding/json"
	"testing"
)

func TestValidateWebhook(t *testing.T) {
	ok := []byte(`{"meta":{"event_name":"order_created","webhook_id":"w1","custom_data":{"job_id":"j1","bundle_type":"bundle"}},"data":{"id":"42","attributes":{"status":"paid"}}}`)
	if err := ValidateWebhook(ok); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	bad := [][]byte{
		[]byte(`{"meta":{},"data":{"id":"1"}}`),
		[]byte(`{"meta":{"event_name":"order_created"}}`),
		[]byte(`{"meta":{"event_name":"order_created","custom_data":{"bundle_type":"crate"}},"data":{"id":"1"}}`),
		[]byte(`not json`),
	}
	for _, b := range bad {
		if err := ValidateWebhook(b); err == nil {
			t.Fatalf("expected rejection for %s", b)
		}
	}
}

func TestValidateTask(t *testing.T) {
	if err := ValidateTask([]byte(`{"jobId":"abc123","taskId":"t"}`)); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
	if err := ValidateTask([]byte(`{"jobId":"../etc"}`)); err == nil {
		t.Fatalf("expected rejection for unsafe id")
	}
	if err := ValidateTask([]byte(`{}`)); err == nil {
		t.Fatalf("expected rejection for missing id")
	}
}

func TestWebhookEventKey(t *testing.T) {
	cases := map[string]string{
		`{"meta":{"webhook_id":"w1","event_id":"e1"},"data":{"id":"9"}}`: "webhook:w1",
		`{"meta":{"event_id":"e1"},"data":{"id":"9"}}`:                   "webhook:e1",
		`{"meta":{},"data":{"id":"9"}}`:                                  "webhook:order:9",
	}
	for raw, want := range cases {
		var p WebhookPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatal(err)
		}
		if got := p.EventKey(); got != want {
			t.Fatalf("%s: got %s want %s", raw, got, want)
		}
	}

	var p WebhookPayload
	_ = json.Unmarshal([]byte(`{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"status":"pending"}}}`), &p)
	if p.IsPaidOrder() {
		t.Fatalf("pending order treated as paid")
	}
}
