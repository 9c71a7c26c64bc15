package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
)

var marshalJSON = json.Marshal

// EventPublisher posts progress events to the control plane ingest endpoint
// and appends them to the store directly when the control plane is unreachable.
type EventPublisher struct {
	controlPlane   string
	httpClient     *http.Client
	requestTimeout time.Duration
	fallback       *events.Recorder
}

func NewEventPublisher(controlPlaneURL string, sink events.Sink) *EventPublisher {
	publisher := &EventPublisher{
		controlPlane:   strings.TrimRight(controlPlaneURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		requestTimeout: 10 * time.Second,
	}
	if sink != nil {
		publisher.fallback = events.NewRecorder(sink, nil)
	}
	return publisher
}

func (p *EventPublisher) Publish(ctx context.Context, event events.Event) error {
	err := p.post(ctx, event)
	if err == nil {
		return nil
	}
	if p.fallback == nil {
		return err
	}
	log.Debug().Err(err).Str("research_id", event.ResearchID).Str("event_type", event.Type).Msg("event_post_failed_using_store")
	_, err = p.fallback.Record(ctx, event)
	return err
}

func (p *EventPublisher) post(ctx context.Context, event events.Event) error {
	if p.controlPlane == "" {
		return errors.New("control plane url not configured")
	}
	event.Seq = 0
	body, err := marshalJSON(event)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/researches/%s/events", p.controlPlane, url.PathEscape(event.ResearchID))
	requestCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane event failed: %s", resp.Status)
	}
	return nil
}
