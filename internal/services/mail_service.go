package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Mailer sends transactional email. Delivery is advisory everywhere it is
// used: callers decide whether a send failure matters.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailService delivers email through an HTTP mail provider API.
type MailService struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

func NewMailService(apiURL, apiKey, from string) *MailService {
	return &MailService{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type mailMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Send posts one message to the provider.
func (s *MailService) Send(ctx context.Context, to, subject, body string) error {
	if s.apiURL == "" {
		log.Println("[Mail] Provider not configured, dropping message")
		return nil
	}

	payload, err := json.Marshal(mailMessage{
		From:    s.from,
		To:      to,
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Mail] Failed to send to %s: %v", to, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Mail] Unexpected status %d sending to %s", resp.StatusCode, to)
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}

	return nil
}
