package model

// WebhookPayload is the subset of a Lemon Squeezy event the service reads.
type WebhookPayload struct {
	Meta struct {
		EventName  string     `json:"event_name"`
		WebhookID  string     `json:"webhook_id"`
		EventID    string     `json:"event_id"`
		CustomData CustomData `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string `json:"status"`
			Total  int    `json:"total"`
		} `json:"attributes"`
	} `json:"data"`
}

// CustomData is attached to the checkout link and echoed back by the
// provider. It carries the correlation key.
type CustomData struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	TabSessionID string `json:"tab_session_id"`
	BundleType   string `json:"bundle_type"`
}

// EventKey identifies one delivery for idempotency.
func (p *WebhookPayload) EventKey() string {
	switch {
	case p.Meta.WebhookID != "":
		return "webhook:" + p.Meta.WebhookID
	case p.Meta.EventID != "":
		return "webhook:" + p.Meta.EventID
	default:
		return "webhook:order:" + p.Data.ID
	}
}

// IsPaidOrder reports whether the event confirms a completed payment.
func (p *WebhookPayload) IsPaidOrder() bool {
	return p.Meta.EventName == "order_created" && p.Data.Attributes.Status == "paid"
}
